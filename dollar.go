package grblcore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// execDollar handles one `$`-prefixed control/query line (spec.md §4.D
// item 5, §6). These are always synchronous and never produce a motion
// block.
func (c *Controller) execDollar(line string) {
	body := strings.TrimPrefix(line, "$")

	switch {
	case body == "":
		for _, l := range helpBanner() {
			c.writeLine(l)
		}
		c.writeLine("ok")
	case body == "$":
		for _, l := range FormatSettingsDump(c.settings) {
			c.writeLine(l)
		}
		c.writeLine("ok")
	case body == "#":
		for _, l := range FormatOffsetsDump(c.coords) {
			c.writeLine(l)
		}
		c.writeLine("ok")
	case body == "G":
		c.writeLine(FormatModalDump(c.parser.Modal))
		c.writeLine("ok")
	case body == "I":
		for _, l := range BuildInfo(time.Now()) {
			c.writeLine(l)
		}
		c.writeLine("ok")
	case body == "H":
		// Homing is out of scope; accept and no-op (spec.md §6).
		c.writeLine("ok")
	case body == "X":
		if c.state.Load() == int32(StateAlarm) {
			c.state.Store(int32(StateIdle))
		}
		c.writeLine("ok")
	case len(body) > 0 && body[0] == 'N':
		c.execStartupLineStore(body)
	case strings.ContainsRune(body, '='):
		c.execSettingAssign(body)
	default:
		c.writeLine(newProtoErr(ErrCodeUnknownLetter, fmt.Sprintf("unknown command $%s", body)).Wire())
	}
}

// execSettingAssign handles `$<n>=<v>`.
func (c *Controller) execSettingAssign(body string) {
	parts := strings.SplitN(body, "=", 2)
	if len(parts) != 2 {
		c.writeLine(newProtoErr(ErrCodeMissingWord, "malformed setting assignment").Wire())
		return
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		c.writeLine(newProtoErr(ErrCodeBadNumber, "bad setting id").Wire())
		return
	}
	value, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		c.writeLine(newProtoErr(ErrCodeBadNumber, "bad setting value").Wire())
		return
	}
	inFlight := func() bool { return c.planner.Occupancy() > 0 || c.segments.Peek() != nil || c.executor.Active() }
	if err := c.settings.Apply(id, value, inFlight); err != nil {
		c.writeLine(newProtoErr(ErrCodeValueOutOfRange, err.Error()).Wire())
		return
	}
	c.writeLine("ok")
}

// execStartupLineStore handles `$N<i>=<line>`.
func (c *Controller) execStartupLineStore(body string) {
	rest := body[1:]
	parts := strings.SplitN(rest, "=", 2)
	if len(parts) != 2 {
		c.writeLine(newProtoErr(ErrCodeMissingWord, "malformed startup-line assignment").Wire())
		return
	}
	i, err := strconv.Atoi(parts[0])
	if err != nil || i < 0 || i >= numStartupLines {
		c.writeLine(newProtoErr(ErrCodeValueOutOfRange, "bad startup-line index").Wire())
		return
	}
	c.settings.mu.Lock()
	c.settings.StartupLines[i] = parts[1]
	c.settings.mu.Unlock()
	c.writeLine("ok")
}

// RunStartupLines executes every stored non-empty startup line through the
// ordinary line-execution path, in index order. Called once at boot.
func (c *Controller) RunStartupLines() {
	c.settings.mu.RLock()
	lines := c.settings.StartupLines
	c.settings.mu.RUnlock()
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		c.execLine(l)
	}
}

func helpBanner() []string {
	return []string{
		"[HLP:$$ $# $G $I $N $H $X $<n>=<v>]",
	}
}
