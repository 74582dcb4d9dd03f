package grblcore

import (
	"fmt"
	"strconv"
	"strings"
)

// word is one letter+number token, e.g. "X10.5" -> {'X', 10.5}.
type word struct {
	letter byte
	value  float64
}

// tokenize splits a stripped G-code line into letter+number words. Comments
// have already been removed by the caller (stripComments). This is a
// hand-rolled byte-at-a-time scan, not a regexp, in the same frame-scanning
// style as ax25_pad.go's field extraction, keeping the serial loop
// allocation-light.
func tokenize(line string) ([]word, error) {
	var words []word
	i := 0
	n := len(line)
	for i < n {
		c := line[i]
		if c == ' ' || c == '\t' {
			i++
			continue
		}
		letter := upperByte(c)
		if !isLetter(letter) {
			return nil, newProtoErr(ErrCodeUnknownLetter, fmt.Sprintf("unexpected character %q", c))
		}
		i++
		start := i
		for i < n && isNumberByte(line[i]) {
			i++
		}
		if start == i {
			return nil, newProtoErr(ErrCodeBadNumber, fmt.Sprintf("missing number after %q", letter))
		}
		val, err := strconv.ParseFloat(line[start:i], 64)
		if err != nil {
			return nil, newProtoErr(ErrCodeBadNumber, fmt.Sprintf("bad number %q", line[start:i]))
		}
		words = append(words, word{letter: letter, value: val})
	}
	return words, nil
}

func isLetter(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == '+' || c == '-'
}

func upperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// stripComments removes `;...` line comments and `(...)` inline comments.
func stripComments(line string) string {
	var b strings.Builder
	depth := 0
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == ';' && depth == 0:
			return b.String()
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case depth == 0:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// isAxisLetter reports whether letter names one of the four axes.
func isAxisLetter(letter byte) (Axis, bool) {
	switch letter {
	case 'X':
		return AxisX, true
	case 'Y':
		return AxisY, true
	case 'Z':
		return AxisZ, true
	case 'A':
		return AxisA, true
	}
	return 0, false
}

// ControlResult is a synchronous reply to a `$`-prefixed command: it never
// produces a motion block (spec.md §4.D item 5).
type ControlResult struct {
	Lines []string
}

// Parser converts completed lines into motion intents, evolving a single
// owned ModalState (spec.md §4.D, §9).
type Parser struct {
	Modal      ModalState
	plannerPos *PlannerPosition
	coords     *CoordinateOffsets
	settings   *Settings
	arcActive  func() bool
}

// NewParser builds a parser wired to the planner position, coordinate
// offsets, and settings it must read on every motion command.
func NewParser(plannerPos *PlannerPosition, coords *CoordinateOffsets, settings *Settings, arcActive func() bool) *Parser {
	return &Parser{
		Modal:      DefaultModalState(),
		plannerPos: plannerPos,
		coords:     coords,
		settings:   settings,
		arcActive:  arcActive,
	}
}

// Reset restores modal state to the soft-reset default (spec.md §3).
func (p *Parser) Reset() {
	p.Modal = DefaultModalState()
}

// pending accumulates the words for one in-progress command while a line is
// being resolved, so axis words can attach to whichever motion/non-modal G
// word preceded them.
type pending struct {
	hasMotion  bool
	motion     MotionMode
	nonModalG  int // 0 = none; else 28, 30, 92, 10, 53 marker (281/301/9201 for the G28.1/G30.1/G92.1 forms)
	g10L       int
	g10P       int
	axisVal    [NumAxes]float64
	axisSet    [NumAxes]bool
	feed       float64
	feedSet    bool
	dwellP     float64
	arcI, arcJ float64
	arcISet    bool
	arcJSet    bool
}

// ParseLine strips comments from one completed G-code line, then tokenises
// and resolves it into zero or more motion intents. The whole line is atomic: either
// every command in it is applied to Modal and its intents are returned, or
// the first error aborts the line with Modal left untouched (spec.md §7).
func (p *Parser) ParseLine(raw string) ([]MotionIntent, error) {
	line := strings.TrimSpace(stripComments(raw))
	if line == "" {
		return nil, nil
	}

	words, err := tokenize(line)
	if err != nil {
		return nil, err
	}

	// Work on a copy so a mid-line error leaves Modal untouched. The active
	// WCS selection lives in coords, not Modal, but must roll back the same
	// way on a mid-line error (spec.md §7) — abortLine restores it.
	modal := p.Modal
	originalWCS := p.coords.ActiveWCS()
	abortLine := func(err error) ([]MotionIntent, error) {
		p.coords.SelectWCS(originalWCS)
		return nil, err
	}
	var intents []MotionIntent
	var cur pending

	flush := func() error {
		if !cur.hasMotion && cur.nonModalG == 0 {
			cur = pending{}
			return nil
		}
		intent, err := p.resolve(&modal, cur)
		if err != nil {
			return err
		}
		if intent != nil {
			intents = append(intents, *intent)
		}
		cur = pending{}
		return nil
	}

	for _, w := range words {
		switch w.letter {
		case 'G':
			// Only a second motion-group word starts a genuinely new
			// command (spec.md §4.D item 2: one line may hold several
			// intents). Plane/units/distance/WCS-select/non-modal markers
			// (G53, G92, G10, G28/G30 and their .1 forms) attach to
			// whichever motion word follows on the same line, e.g.
			// "G53 G0 X10" or "G90 G17 G1 X10" are each one command.
			if isMotionGroupCode(w.value) && cur.hasMotion {
				if err := flush(); err != nil {
					return abortLine(err)
				}
			}
			if err := applyGWord(&modal, w.value, &cur); err != nil {
				return abortLine(err)
			}
			// Select eagerly (not deferred to the final commit) so a WCS
			// change and a motion word on the same line resolve against the
			// new frame, matching conventional G-code block semantics.
			p.coords.SelectWCS(modal.ActiveWCS)
		case 'M':
			if err := flush(); err != nil {
				return abortLine(err)
			}
			if err := applyMWord(&modal, w.value); err != nil {
				return abortLine(err)
			}
			// M2/M30 reset modal state, including the WCS selection.
			p.coords.SelectWCS(modal.ActiveWCS)
		case 'F':
			cur.feed = convertUnits(modal.Units, w.value)
			cur.feedSet = true
		case 'S':
			modal.LastSpindle = w.value
		case 'P':
			cur.dwellP = w.value
			cur.g10P = int(w.value)
		case 'L':
			cur.g10L = int(w.value)
		case 'I':
			cur.arcI = convertUnits(modal.Units, w.value)
			cur.arcISet = true
		case 'J':
			cur.arcJ = convertUnits(modal.Units, w.value)
			cur.arcJSet = true
		case 'T':
			modal.Tool = int(w.value)
		case 'N':
			// Line number, informational only.
		case 'R':
			return abortLine(newProtoErr(ErrCodeUnsupportedArc, "radius-form arcs are not supported"))
		default:
			if axis, ok := isAxisLetter(w.letter); ok {
				cur.axisVal[axis] = convertUnits(modal.Units, w.value)
				cur.axisSet[axis] = true
			} else {
				return abortLine(newProtoErr(ErrCodeUnknownLetter, fmt.Sprintf("unsupported word %q", string(w.letter))))
			}
		}
	}

	if err := flush(); err != nil {
		return abortLine(err)
	}

	p.Modal = modal
	return intents, nil
}

func convertUnits(u UnitMode, v float64) float64 {
	if u == UnitInch {
		return v * mmPerInch
	}
	return v
}

// isMotionGroupCode reports whether code belongs to the G0/G1/G2/G3/G4 modal
// group — the only G-codes that can conflict with an already-pending one on
// the same line.
func isMotionGroupCode(code float64) bool {
	switch code {
	case 0, 1, 2, 3, 4:
		return true
	default:
		return false
	}
}

// applyGWord updates modal groups for a bare G word and records motion-
// group/non-modal markers on cur for the eventual flush/resolve.
func applyGWord(m *ModalState, code float64, cur *pending) error {
	switch code {
	case 0:
		cur.hasMotion, cur.motion = true, MotionRapid
		m.Motion = MotionRapid
	case 1:
		cur.hasMotion, cur.motion = true, MotionLinear
		m.Motion = MotionLinear
	case 2:
		cur.hasMotion, cur.motion = true, MotionArcCW
		m.Motion = MotionArcCW
	case 3:
		cur.hasMotion, cur.motion = true, MotionArcCCW
		m.Motion = MotionArcCCW
	case 4:
		cur.hasMotion, cur.motion = true, MotionDwell
	case 10:
		cur.nonModalG = 10
	case 17:
		m.Plane = PlaneXY
	case 18:
		m.Plane = PlaneXZ
	case 19:
		m.Plane = PlaneYZ
	case 20:
		m.Units = UnitInch
	case 21:
		m.Units = UnitMM
	case 28:
		cur.nonModalG = 28
	case 28.1:
		cur.nonModalG = 281
	case 30:
		cur.nonModalG = 30
	case 30.1:
		cur.nonModalG = 301
	case 53:
		cur.nonModalG = 53
	case 54, 55, 56, 57, 58, 59:
		m.ActiveWCS = int(code) - 54
	case 90:
		m.Distance = DistanceAbsolute
	case 91:
		m.Distance = DistanceIncremental
	case 92:
		cur.nonModalG = 92
	case 92.1:
		cur.nonModalG = 9201
	case 93:
		m.FeedRateMode = FeedInverseTime
	case 94:
		m.FeedRateMode = FeedUnitsPerMinute
	default:
		return newProtoErr(ErrCodeUnsupportedModal, fmt.Sprintf("unsupported G%v", code))
	}
	return nil
}

func applyMWord(m *ModalState, code float64) error {
	switch code {
	case 0, 1:
		// Program pause: accepted and ignored.
	case 2, 30:
		*m = DefaultModalState()
	case 3:
		m.Spindle = SpindleCW
	case 4:
		m.Spindle = SpindleCCW
	case 5:
		m.Spindle = SpindleOff
	case 7:
		m.Coolant.Mist = true
	case 8:
		m.Coolant.Flood = true
	case 9:
		m.Coolant.Mist, m.Coolant.Flood = false, false
	default:
		return newProtoErr(ErrCodeUnsupportedModal, fmt.Sprintf("unsupported M%v", code))
	}
	return nil
}

// resolve turns one accumulated pending command into a MotionIntent (or nil
// for the synchronous non-modal commands that never produce one), reading
// (but never writing) the planner's exact-mm position for axes not
// specified in the command (spec.md §4.D step 4 — this is load-bearing for
// correct planner geometry).
func (p *Parser) resolve(m *ModalState, cur pending) (*MotionIntent, error) {
	switch cur.nonModalG {
	case 92:
		work := p.axisTargetWork(m, cur)
		machine := p.plannerMachine()
		p.coords.ApplyG92(machine, work)
		return nil, nil
	case 9201:
		p.coords.ClearG92()
		return nil, nil
	case 281:
		p.coords.StorePredefined28(p.plannerMachine())
		return nil, nil
	case 301:
		p.coords.StorePredefined30(p.plannerMachine())
		return nil, nil
	case 28:
		return p.intentToward(m, p.coords.Predefined28(), cur), nil
	case 30:
		return p.intentToward(m, p.coords.Predefined30(), cur), nil
	case 10:
		return nil, p.applyG10(m, cur)
	case 53:
		// One-shot machine coordinates: the target is resolved by
		// axisTargetRaw below via the cur.nonModalG check. A G53 line
		// without its own motion word moves in the current modal motion
		// mode.
		if !cur.hasMotion {
			cur.hasMotion = true
			cur.motion = m.Motion
		}
	}

	if !cur.hasMotion {
		return nil, nil
	}

	if cur.motion == MotionDwell {
		return &MotionIntent{Mode: MotionDwell, DwellSec: cur.dwellP}, nil
	}

	if p.arcActive != nil && p.arcActive() {
		return nil, newProtoErr(ErrCodeArcActive, "motion rejected while arc is active")
	}

	var targetMM AxisVector
	if cur.nonModalG == 53 {
		targetMM = p.axisTargetRaw(m, cur, p.plannerMachine())
	} else {
		work := p.axisTargetWork(m, cur)
		targetMM = p.coords.MachineFromWork(work)
		for a := Axis(0); a < NumAxes; a++ {
			if !cur.axisSet[a] {
				targetMM[a] = p.plannerMachine()[a]
			}
		}
	}

	feed := cur.feed
	if !cur.feedSet {
		feed = m.LastFeed
	} else {
		m.LastFeed = feed
	}

	intent := &MotionIntent{
		TargetMM:  targetMM,
		Specified: cur.axisSet,
		FeedRate:  feed,
		Mode:      cur.motion,
	}

	if cur.motion == MotionArcCW || cur.motion == MotionArcCCW {
		if m.Plane != PlaneXY {
			return nil, newProtoErr(ErrCodeUnsupportedArc, "only the XY plane is first-class")
		}
		if !cur.arcISet && !cur.arcJSet {
			return nil, newProtoErr(ErrCodeArcGeometry, "arc requires I and/or J")
		}
		intent.CenterI, intent.CenterJ = cur.arcI, cur.arcJ
	}

	return intent, nil
}

// axisTargetWork resolves the command's axis words into an absolute
// work-frame position, honouring distance mode. Axes not specified are
// left at the caller's current work position (computed from planner
// position) so later inheritance logic in resolve can detect and preserve
// them precisely.
func (p *Parser) axisTargetWork(m *ModalState, cur pending) AxisVector {
	currentWork := p.coords.WorkMM(p.plannerMachine())
	var target AxisVector
	for a := Axis(0); a < NumAxes; a++ {
		if !cur.axisSet[a] {
			target[a] = currentWork[a]
			continue
		}
		if m.Distance == DistanceAbsolute {
			target[a] = cur.axisVal[a]
		} else {
			target[a] = currentWork[a] + cur.axisVal[a]
		}
	}
	return target
}

// axisTargetRaw resolves axis words directly against the machine frame
// (G53 one-shot), honouring distance mode relative to current machine
// position.
func (p *Parser) axisTargetRaw(m *ModalState, cur pending, currentMachine AxisVector) AxisVector {
	target := currentMachine
	for a := Axis(0); a < NumAxes; a++ {
		if !cur.axisSet[a] {
			continue
		}
		if m.Distance == DistanceAbsolute {
			target[a] = cur.axisVal[a]
		} else {
			target[a] = currentMachine[a] + cur.axisVal[a]
		}
	}
	return target
}

func (p *Parser) plannerMachine() AxisVector {
	return p.plannerPos.Get()
}

// intentToward builds a rapid motion intent to a stored predefined
// position, honouring only the axes specified (unspecified axes inherit
// current position, as for any other motion command).
func (p *Parser) intentToward(m *ModalState, predef AxisVector, cur pending) *MotionIntent {
	target := p.plannerMachine()
	specified := cur.axisSet
	any := false
	for a := Axis(0); a < NumAxes; a++ {
		if cur.axisSet[a] {
			any = true
		}
	}
	if !any {
		specified = [NumAxes]bool{true, true, true, true}
		target = predef
	} else {
		for a := Axis(0); a < NumAxes; a++ {
			if cur.axisSet[a] {
				target[a] = predef[a]
			}
		}
	}
	return &MotionIntent{
		TargetMM:  target,
		Specified: specified,
		FeedRate:  m.LastFeed,
		Mode:      MotionRapid,
	}
}

// applyG10 handles G10 L2/L20 Pn — set a WCS offset either directly (L2)
// or so the current position becomes the given work coordinates (L20),
// per spec.md §4.D/§6.
func (p *Parser) applyG10(m *ModalState, cur pending) error {
	if cur.g10P < 1 || cur.g10P > 6 {
		return newProtoErr(ErrCodeMissingWord, "G10 requires P1-P6")
	}
	index := cur.g10P - 1

	switch cur.g10L {
	case 2:
		offset := p.coords.WCSOffset(index)
		for a := Axis(0); a < NumAxes; a++ {
			if cur.axisSet[a] {
				offset[a] = cur.axisVal[a]
			}
		}
		p.coords.SetWCSOffset(index, offset)
	case 20:
		machine := p.plannerMachine()
		offset := p.coords.WCSOffset(index)
		for a := Axis(0); a < NumAxes; a++ {
			if cur.axisSet[a] {
				offset[a] = machine[a] - cur.axisVal[a]
			}
		}
		p.coords.SetWCSOffset(index, offset)
	default:
		return newProtoErr(ErrCodeMissingWord, "G10 requires L2 or L20")
	}
	return nil
}
