package vm

import (
	"bufio"
	"log"
	"os"

	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// io is the host collaborator: non-blocking keyboard polling, blocking
// reads for GETC/IN, and buffered character output for the trap
// service. A background goroutine drains stdin into keyBuffer so that
// Poll never blocks the fetch-execute loop.
type io struct {
	originalTerminalConfig unix.Termios
	rawModeActive          bool
	isTerminal             bool
	stdout                 *bufio.Writer
	keyBuffer              chan byte
}

func newIO() io {
	return io{
		stdout:     bufio.NewWriter(os.Stdout),
		keyBuffer:  make(chan byte, 64),
		isTerminal: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// Poll satisfies Keyboard. It never blocks: if no byte has been read
// from stdin yet, it reports none pending.
func (io *io) Poll() (byte, bool) {
	select {
	case b := <-io.keyBuffer:
		return b, true
	default:
		return 0, false
	}
}

// ReadByte blocks until a byte is available from stdin.
func (io *io) ReadByte() byte {
	return <-io.keyBuffer
}

func (io *io) WriteByte(b byte) {
	if err := io.stdout.WriteByte(b); err != nil {
		log.Panicf("error writing to stdout: %s\n", err)
	}
}

func (io *io) WriteString(s string) {
	if _, err := io.stdout.WriteString(s); err != nil {
		log.Panicf("error writing to stdout: %s\n", err)
	}
}

func (io *io) Flush() {
	if err := io.stdout.Flush(); err != nil {
		log.Panicf("error flushing stdout: %s\n", err)
	}
}

// pollStdin continuously copies stdin into keyBuffer one byte at a
// time so Poll/ReadByte never touch the fd directly. Runs for the
// life of the process; exits when stdin is closed.
func (io *io) pollStdin() {
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		io.keyBuffer <- buf[0]
	}
}

// enableRawMode configures stdin for unbuffered, non-echoing reads
// when stdin is a terminal. When stdin is redirected (a file, a pipe,
// as under test), raw mode is skipped entirely — there is no line
// discipline to reconfigure, and canonical reads already deliver
// bytes as they arrive in the stream.
func (io *io) enableRawMode() {
	if !io.isTerminal {
		return
	}
	if err := termios.Tcgetattr(os.Stdin.Fd(), &io.originalTerminalConfig); err != nil {
		log.Panicf("error reading terminal attributes: %s\n", err)
	}
	newTermios := io.originalTerminalConfig
	newTermios.Lflag &^= unix.ICANON | unix.ECHO
	if err := termios.Tcsetattr(os.Stdin.Fd(), termios.TCSANOW, &newTermios); err != nil {
		log.Panicf("error setting terminal attributes: %s\n", err)
	}
	io.rawModeActive = true
}

func (io *io) disableRawMode() {
	if !io.rawModeActive {
		return
	}
	if err := termios.Tcsetattr(os.Stdin.Fd(), termios.TCSANOW, &io.originalTerminalConfig); err != nil {
		log.Panicf("error restoring terminal attributes: %s\n", err)
	}
	io.rawModeActive = false
}
