package grblcore

import (
	"bufio"
	"io"
)

// Real-time commands are single bytes that take effect immediately,
// out-of-band from the line-buffered protocol, exactly as in the source
// wire protocol (spec.md §2, §4.C). They never wait for a newline.
const (
	RTStatusQuery byte = '?'
	RTCycleStart  byte = '~'
	RTFeedHold    byte = '!'
	RTSoftReset   byte = 0x18 // Ctrl-X
)

const maxLineLength = 256

// RealTimeHandler is invoked synchronously, from the intake goroutine, the
// instant a real-time byte is seen — it must never block (spec.md §4.C:
// these bytes bypass the line buffer entirely so they can interrupt a
// stalled producer).
type RealTimeHandler func(b byte)

// LineIntake reads a byte stream, splitting it into newline-terminated
// G-code lines while pulling single-byte real-time commands out of the
// stream the instant they arrive, regardless of where they land relative
// to an in-progress line (spec.md §4.C). It is the sole owner of the input
// line buffer; nothing downstream sees a partial line.
type LineIntake struct {
	r        *bufio.Reader
	realTime RealTimeHandler
	buf      []byte
}

// NewLineIntake wraps r. realTime is called for every real-time byte
// encountered, including ones embedded inside an otherwise-ordinary line.
func NewLineIntake(r io.Reader, realTime RealTimeHandler) *LineIntake {
	return &LineIntake{
		r:        bufio.NewReader(r),
		realTime: realTime,
		buf:      make([]byte, 0, maxLineLength),
	}
}

// ReadLine blocks until a complete line is available and returns it with
// the trailing newline stripped, or returns an error (typically io.EOF or
// a ProtocolError for an oversized line) if none is. Real-time bytes
// encountered along the way are dispatched to realTime and never appear in
// the returned line.
func (li *LineIntake) ReadLine() (string, error) {
	li.buf = li.buf[:0]
	for {
		b, err := li.r.ReadByte()
		if err != nil {
			return "", err
		}

		switch b {
		case RTStatusQuery, RTCycleStart, RTFeedHold, RTSoftReset:
			if li.realTime != nil {
				li.realTime(b)
			}
			if b == RTSoftReset {
				// Soft reset discards the partially assembled line.
				li.buf = li.buf[:0]
			}
			continue
		case '\n':
			return string(li.buf), nil
		case '\r':
			continue
		}

		if len(li.buf) >= maxLineLength {
			// Drain the rest of the oversized line so the next ReadLine
			// call starts clean, still dispatching any real-time bytes in
			// it, then report it.
			for {
				b, err := li.r.ReadByte()
				if err != nil || b == '\n' {
					break
				}
				switch b {
				case RTStatusQuery, RTCycleStart, RTFeedHold, RTSoftReset:
					if li.realTime != nil {
						li.realTime(b)
					}
				}
			}
			return "", newProtoErr(ErrCodeLineTooLong, "line exceeds buffer")
		}
		li.buf = append(li.buf, b)
	}
}
