//go:build linux

// Package serialport opens a POSIX tty as a pkg/transport.Port. No
// example repo ships a serial library, so this talks termios directly
// through golang.org/x/sys/unix, the way pkg/wal/mmap.go reaches past
// the standard library for OS-level file control.
package serialport

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Port wraps a tty file descriptor opened in raw mode at a fixed baud
// rate, satisfying pkg/transport.Port.
type Port struct {
	f *os.File
}

// baudRates maps the configured integer baud rate to the termios speed
// constant. Only the rates pkg/config.SerialConfig.BaudRate validates
// against are listed.
var baudRates = map[int]uint32{
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// Open opens device in raw, 8N1 mode at baudRate. The returned Port's
// Read honors the deadline set by SetReadDeadline through the file's
// own I/O deadline rather than a VTIME-based termios timeout, so the
// same deadline semantics hold across repeated reads within a single
// Exchange.
func Open(device string, baudRate int) (*Port, error) {
	speed, ok := baudRates[baudRate]
	if !ok {
		return nil, fmt.Errorf("serialport: unsupported baud rate %d", baudRate)
	}

	f, err := os.OpenFile(device, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", device, err)
	}

	if err := setRawMode(f, speed); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Port{f: f}, nil
}

func setRawMode(f *os.File, speed uint32) error {
	fd := int(f.Fd())

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("serialport: get termios: %w", err)
	}

	unix.CfmakeRaw(t)
	t.Cflag |= unix.CREAD | unix.CLOCAL
	t.Cflag &^= unix.CSTOPB | unix.PARENB
	t.Cflag |= unix.CS8
	if err := unix.CfsetSpeed(t, speed); err != nil {
		return fmt.Errorf("serialport: set speed: %w", err)
	}
	// Blocking read with no minimum byte count: Read returns whatever is
	// available once any data has arrived, letting the deadline (set via
	// SetReadDeadline below) own the actual timeout.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("serialport: set termios: %w", err)
	}
	return nil
}

func (p *Port) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *Port) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *Port) Close() error                { return p.f.Close() }

// SetReadDeadline implements transport.Port via the file's own I/O
// deadline (supported for tty devices on Linux/BSD through the runtime
// poller).
func (p *Port) SetReadDeadline(t time.Time) error {
	return p.f.SetReadDeadline(t)
}
