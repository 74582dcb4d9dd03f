// Package grblcore implements the motion-control core of a GRBL-compatible
// 4-axis CNC firmware: G-code line parsing and modal state, a look-ahead
// trajectory planner with junction-deviation cornering, a segment generator
// that decomposes planner blocks into constant-rate chunks, a dominant/
// subordinate step executor, and an arc generator that feeds circular
// interpolation into the planner under back-pressure.
//
// The peripheral world — serial transport, GPIO timers, non-volatile
// storage — is reached only through the interfaces in this package and the
// hal and transport subpackages; grblcore itself never talks to hardware
// directly.
package grblcore
