package grblcore

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// commandQueueDepth is the bounded depth of the intermediate command queue
// between line intake and parser execution (spec.md §4.C): it exists so
// "ok" can be returned as soon as a line is accepted, decoupling parsing
// from step execution.
const commandQueueDepth = 8

// Controller wires every component together into the single runnable
// system: line intake, parser, planner, segment generator, step executor,
// arc generator, and status reporting (spec.md §2 data-flow: C -> D -> E
// -> F -> G -> B, with H feeding E independently).
type Controller struct {
	settings *Settings
	logger   Logger

	position *MachinePosition
	coords   *CoordinateOffsets
	plannerPos *PlannerPosition

	planner  *Planner
	segments *SegmentRing
	segGen   *SegmentGenerator
	executor *StepExecutor
	arc      *ArcGenerator
	parser   *Parser
	intake   *LineIntake

	out io.Writer
	outMu sync.Mutex

	state atomic.Int32 // MachineState
	feedHoldRequested atomic.Bool
	softResetRequested atomic.Bool

	lines chan string
}

// NewController assembles a complete controller. channels supplies one
// PulseChannel per axis (from the hal package); rw is the line-oriented
// transport (serial port or test pty).
func NewController(settings *Settings, rw io.ReadWriter, channels [NumAxes]PulseChannel, logger Logger) *Controller {
	if logger == nil {
		logger = NopLogger{}
	}
	position := &MachinePosition{}
	coords := NewCoordinateOffsets(settings)
	plannerPos := &PlannerPosition{}

	planner := NewPlanner(settings, plannerPos, logger)
	segments := &SegmentRing{}
	executor := NewStepExecutor(segments, position, channels, logger)
	segGen := NewSegmentGenerator(planner, segments, settings, executor.HoldRequested)
	arc := NewArcGenerator(planner, settings, logger)

	c := &Controller{
		settings:   settings,
		logger:     logger,
		position:   position,
		coords:     coords,
		plannerPos: plannerPos,
		planner:    planner,
		segments:   segments,
		segGen:     segGen,
		executor:   executor,
		arc:        arc,
		out:        rw,
		lines:      make(chan string, commandQueueDepth),
	}
	c.parser = NewParser(plannerPos, coords, settings, arc.Active)
	c.intake = NewLineIntake(rw, c.handleRealTime)
	c.state.Store(int32(StateIdle))
	return c
}

// handleRealTime dispatches a single-byte real-time command the instant
// intake sees it (spec.md §4.C) — it must never block.
func (c *Controller) handleRealTime(b byte) {
	switch b {
	case RTStatusQuery:
		c.emitStatus()
	case RTFeedHold:
		c.feedHoldRequested.Store(true)
		c.executor.FeedHold()
		c.state.Store(int32(StateHold))
	case RTCycleStart:
		c.feedHoldRequested.Store(false)
		c.executor.Resume()
		if c.state.Load() == int32(StateHold) {
			c.state.Store(int32(StateRun))
		}
	case RTSoftReset:
		c.softResetRequested.Store(true)
	}
}

func (c *Controller) emitStatus() {
	report := BuildStatusReport(MachineState(c.state.Load()), c.position, c.coords, c.settings, c.parser.Modal.LastFeed, c.parser.Modal.LastSpindle)
	c.writeLine(report.String())
}

func (c *Controller) writeLine(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	io.WriteString(c.out, s+"\n")
}

// writeErrorLine writes a ProtocolError's strict wire form, "error:<code>"
// (spec.md §6) — never the Msg-decorated Error() text, which is for logs
// only. err is always a *ProtocolError in practice; the fallback exists
// only because this is the boundary where it is converted to wire bytes.
func (c *Controller) writeErrorLine(err error) {
	if pe, ok := err.(*ProtocolError); ok {
		c.writeLine(pe.Wire())
		return
	}
	c.writeLine(err.Error())
}

// Run starts the controller's goroutines: the intake reader feeding the
// bounded command queue, the periodic segment-generator/arc tickers, and
// the main-loop command executor. It blocks until ctx is cancelled or the
// transport returns a read error.
func (c *Controller) Run(ctx context.Context) error {
	for _, l := range Banner() {
		c.writeLine(l)
	}
	c.writeLine("ok")

	errCh := make(chan error, 1)
	go c.readLoop(errCh)

	segTicker := time.NewTicker(5 * time.Millisecond)
	arcPeriod := 40 * time.Millisecond // ~25 Hz when ArcTickHz is unset
	if hz := c.settings.ArcTickHz; hz > 0 {
		arcPeriod = time.Duration(float64(time.Second) / hz)
	}
	arcTicker := time.NewTicker(arcPeriod)
	defer segTicker.Stop()
	defer arcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case line := <-c.lines:
			c.execLine(line)
		case <-segTicker.C:
			c.segGen.Tick()
			c.executor.StartSegmentExecution()
		case <-arcTicker.C:
			if c.arc.Active() {
				c.arc.Tick()
			}
			c.arc.NotifyDrained()
		}

		if c.softResetRequested.Load() {
			c.softResetRequested.Store(false)
			c.doSoftReset()
		}
	}
}

func (c *Controller) readLoop(errCh chan<- error) {
	for {
		line, err := c.intake.ReadLine()
		if err != nil {
			if pe, ok := err.(*ProtocolError); ok {
				c.writeErrorLine(pe)
				continue
			}
			errCh <- err
			return
		}
		c.lines <- line
	}
}

// execLine runs one completed line through the `$`-command handler or the
// parser, and writes exactly one of ok/error/nothing (spec.md §7).
func (c *Controller) execLine(line string) {
	if len(line) > 0 && line[0] == '$' {
		c.execDollar(line)
		return
	}

	intents, err := c.parser.ParseLine(line)
	if err != nil {
		c.writeErrorLine(err)
		return
	}

	for _, intent := range intents {
		accepted, err := c.submitIntent(intent)
		if err != nil {
			c.writeErrorLine(err)
			return
		}
		if !accepted {
			// Buffer full: emit nothing, rely on the host retrying the
			// same line (spec.md §4.E, §7).
			return
		}
	}
	c.writeLine("ok")
}

// submitIntent dispatches one resolved intent to the planner, the arc
// generator, or a tracked modal side-effect. It returns false with a nil
// error on a "buffer full" result, signalling the caller to withhold "ok",
// and a non-nil error when the planner or arc generator rejects the intent.
func (c *Controller) submitIntent(intent MotionIntent) (bool, error) {
	switch intent.Mode {
	case MotionDwell:
		time.Sleep(time.Duration(intent.DwellSec * float64(time.Second)))
		return true, nil
	case MotionArcCW, MotionArcCCW:
		start := c.plannerPos.Get()
		err := c.arc.Start(start, intent.TargetMM, intent.CenterI, intent.CenterJ, intent.FeedRate, intent.Mode == MotionArcCCW)
		if err != nil {
			return false, err
		}
		return true, nil
	default:
		result, err := c.planner.SubmitLine(intent.TargetMM, intent.FeedRate, intent.Mode == MotionRapid)
		if err != nil {
			return false, err
		}
		switch result {
		case SubmitBufferFull:
			return false, nil
		case SubmitAccepted:
			c.state.Store(int32(StateRun))
			c.executor.StartSegmentExecution()
		case SubmitEmptyBlock:
		}
		return true, nil
	}
}

// doSoftReset performs the sequence from spec.md §7: stop pulses, clear
// the planner ring, the segment ring and the command queue (line intake
// drops its own partial line when it sees the reset byte), reset modal
// state to G54 (keeping WCS/predefined positions), resynchronise planner
// position to the machine's, then emit the banner and a final "ok".
func (c *Controller) doSoftReset() {
	c.executor.SoftReset()
	c.planner.Clear()
	for c.segments.Peek() != nil {
		c.segments.Pop()
	}
	c.segGen.haveBlock = false
	c.arc.Abort()
	for {
		select {
		case <-c.lines:
		default:
			goto drained
		}
	}
drained:
	c.parser.Reset()
	c.coords.SelectWCS(c.parser.Modal.ActiveWCS)
	c.coords.ClearG92()
	c.plannerPos.SynchronisePlannerPosition(c.position.GetMM(c.settings), c.logger)
	c.state.Store(int32(StateIdle))

	for _, l := range Banner() {
		c.writeLine(l)
	}
	c.writeLine("ok")
}
