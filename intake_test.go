package grblcore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineIntake_ReadsCompleteLines(t *testing.T) {
	r := strings.NewReader("G1 X10\r\nG1 Y20\n")
	intake := NewLineIntake(r, nil)

	line, err := intake.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "G1 X10", line)

	line, err = intake.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "G1 Y20", line)

	_, err = intake.ReadLine()
	assert.Error(t, err) // io.EOF
}

func TestLineIntake_RealTimeBytesInterceptedMidLine(t *testing.T) {
	var seen []byte
	r := strings.NewReader("G1 X" + string(RTStatusQuery) + "10" + string(RTFeedHold) + "\n")
	intake := NewLineIntake(r, func(b byte) { seen = append(seen, b) })

	line, err := intake.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "G1 X10", line, "real-time bytes must never appear in the returned line")
	assert.Equal(t, []byte{RTStatusQuery, RTFeedHold}, seen)
}

func TestLineIntake_RealTimeByteAloneProducesNoLineBreak(t *testing.T) {
	var seen []byte
	r := strings.NewReader(string(RTSoftReset) + "G1 X1\n")
	intake := NewLineIntake(r, func(b byte) { seen = append(seen, b) })

	line, err := intake.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "G1 X1", line)
	assert.Equal(t, []byte{RTSoftReset}, seen)
}

func TestLineIntake_OversizedLineReportsErrorAndRecovers(t *testing.T) {
	long := strings.Repeat("X", maxLineLength+10)
	r := strings.NewReader(long + "\nG1 X1\n")
	intake := NewLineIntake(r, nil)

	_, err := intake.ReadLine()
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeLineTooLong, pe.Code)

	line, err := intake.ReadLine()
	require.NoError(t, err, "the reader must recover cleanly on the next call")
	assert.Equal(t, "G1 X1", line)
}
