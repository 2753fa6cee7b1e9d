package vm

import (
	"encoding/binary"
	"fmt"
	goIO "io"
	"os"
)

// VM bundles the memory, register file, and host I/O collaborator
// into a single explicit machine value, threaded through the
// fetch-execute loop instead of living as process globals.
type VM struct {
	memory *memory
	cpu    cpu
}

// NewVM allocates the memory cells once and hands the same pointer to
// both the VM and its cpu, so a load through LoadImage and a read
// through the fetch-execute loop always see each other's writes.
func NewVM() VM {
	mem := newMemory()
	return VM{
		cpu:    newCpu(&mem),
		memory: &mem,
	}
}

// LoadImage reads one or more LC-3 object files and copies each into
// memory at the origin recorded in its first word. Multiple images are
// loaded in the order given, a later image overwriting any cells an
// earlier one wrote, matching the original
// "lc3 [image-file1] ..." invocation.
func (vm *VM) LoadImage(paths ...string) error {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("lc3vm: opening image %q: %w", path, err)
		}
		err = vm.loadImageFile(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("lc3vm: loading image %q: %w", path, err)
		}
	}
	return nil
}

// loadImageFile reads an LC-3 object file: the first big-endian word
// is the origin, every subsequent big-endian word is copied to memory
// starting at that origin. Reading stops at EOF; a file longer than
// the remaining address space is truncated at 0xFFFF.
func (vm *VM) loadImageFile(r goIO.Reader) error {
	origin, ok, err := readWord(r)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	addr := origin
	for {
		w, ok, err := readWord(r)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		vm.memory.write(addr, w)

		if addr == 0xFFFF {
			return nil
		}
		addr++
	}
}

// readWord reads one big-endian 16-bit word. ok is false at a clean
// EOF before any byte of the word was read.
func readWord(r goIO.Reader) (word, bool, error) {
	var buf [2]byte
	n, err := goIO.ReadFull(r, buf[:])
	if err == goIO.EOF && n == 0 {
		return 0, false, nil
	}
	if err != nil && err != goIO.ErrUnexpectedEOF {
		return 0, false, err
	}
	return word(binary.BigEndian.Uint16(buf[:])), true, nil
}

// Run loads the given images, enables raw terminal mode, and drives
// the fetch-execute loop until HALT or a fatal opcode. Once raw mode
// is enabled it is always restored before returning, even on error.
func (vm *VM) Run(imagePaths ...string) error {
	if err := vm.LoadImage(imagePaths...); err != nil {
		return err
	}

	vm.cpu.io.enableRawMode()
	go vm.cpu.io.pollStdin()
	defer vm.cpu.io.disableRawMode()

	return vm.cpu.run()
}

// Stop halts execution and restores terminal state; safe to call at
// any point, including from a signal handler.
func (vm *VM) Stop() {
	vm.cpu.stop()
	vm.cpu.io.disableRawMode()
}
