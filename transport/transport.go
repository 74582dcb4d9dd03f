// Package transport supplies io.ReadWriter implementations for grblcore's
// serial line intake: a real serial port, and a pty pair for local
// development and tests, sharing one code path against the core.
package transport

import "io"

// ReadWriteCloser is the minimal surface grblcore's controller needs from
// a transport.
type ReadWriteCloser interface {
	io.ReadWriter
	io.Closer
}
