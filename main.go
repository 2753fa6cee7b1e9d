package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"

	"lc3vm/vm"
)

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		os.Exit(0)
	}

	machine := vm.NewVM()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- machine.Run(args...)
	}()

	select {
	case err := <-done:
		if err == nil {
			os.Exit(0)
		}
		if errors.Is(err, vm.ErrFatalOpcode) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		log.Fatalf("lc3vm: %s\n", err)

	case <-ctx.Done():
		machine.Stop()
		os.Exit(-2)
	}
}
