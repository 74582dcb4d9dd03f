package transport

import (
	"os"

	"github.com/creack/pty"
)

// Pty is a development/test transport: a pty pair where Master is handed
// to the controller as its line-oriented transport, and Replica is given
// to a test harness or a human at a terminal emulator to act as the
// "host" side, without needing real serial hardware.
type Pty struct {
	Master *os.File
	Replica *os.File
}

// OpenPty allocates a new pty pair.
func OpenPty() (*Pty, error) {
	master, replica, err := pty.Open()
	if err != nil {
		return nil, err
	}
	return &Pty{Master: master, Replica: replica}, nil
}

func (p *Pty) Read(b []byte) (int, error)  { return p.Master.Read(b) }
func (p *Pty) Write(b []byte) (int, error) { return p.Master.Write(b) }
func (p *Pty) Close() error {
	err1 := p.Master.Close()
	err2 := p.Replica.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
