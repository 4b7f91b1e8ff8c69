//go:build !linux

package serialport

import (
	"fmt"
	"time"
)

// Port is unimplemented on non-Linux platforms: the inverter gateway
// targets embedded Linux, and termios ioctl numbers are platform-
// specific (TCGETS/TCSETS are Linux-only in golang.org/x/sys/unix).
type Port struct{}

func Open(device string, baudRate int) (*Port, error) {
	return nil, fmt.Errorf("serialport: unsupported on this platform, build for linux")
}

func (p *Port) Read(b []byte) (int, error)  { return 0, fmt.Errorf("serialport: unsupported") }
func (p *Port) Write(b []byte) (int, error) { return 0, fmt.Errorf("serialport: unsupported") }
func (p *Port) Close() error                { return nil }
func (p *Port) SetReadDeadline(t time.Time) error { return fmt.Errorf("serialport: unsupported") }
