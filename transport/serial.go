package transport

import (
	"fmt"

	"github.com/pkg/term"
)

// Serial wraps a real serial port in raw mode, 8N1 at a fixed baud rate
// (spec.md §6: "115200 baud, 8N1"), restating the serial_port_open/
// write/read trio as a small Go type instead of three free functions
// passing a *term.Term handle around.
type Serial struct {
	t *term.Term
}

// OpenSerial opens device (e.g. "/dev/ttyUSB0") at baud and puts it into
// raw mode.
func OpenSerial(device string, baud int) (*Serial, error) {
	t, err := term.Open(device, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	switch baud {
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		if err := t.SetSpeed(baud); err != nil {
			t.Close()
			return nil, fmt.Errorf("set speed %d on %s: %w", baud, device, err)
		}
	default:
		t.Close()
		return nil, fmt.Errorf("unsupported baud rate %d", baud)
	}
	return &Serial{t: t}, nil
}

func (s *Serial) Read(p []byte) (int, error)  { return s.t.Read(p) }
func (s *Serial) Write(p []byte) (int, error) { return s.t.Write(p) }
func (s *Serial) Close() error                { return s.t.Close() }
