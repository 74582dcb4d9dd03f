// Command gcodelint offline-checks a G-code file's syntax against the same
// parser grblcore's controller uses at runtime, without touching any
// planner, executor, or hardware state. In the spirit of decode_aprs: a
// thin driver around one package's public entry point, reporting per-line
// results to stdout.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	grblcore "github.com/grbl-go/grblcore"
)

func main() {
	var help = pflag.BoolP("help", "h", false, "Display help text.")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gcodelint: offline syntax-check a G-code file\n\nUsage: gcodelint <file>\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help || pflag.NArg() != 1 {
		pflag.Usage()
		if !*help {
			os.Exit(2)
		}
		return
	}

	f, err := os.Open(pflag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	settings := grblcore.DefaultSettings()
	plannerPos := &grblcore.PlannerPosition{}
	coords := grblcore.NewCoordinateOffsets(settings)
	parser := grblcore.NewParser(plannerPos, coords, settings, func() bool { return false })

	scanner := bufio.NewScanner(f)
	lineNo := 0
	errCount := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		intents, err := parser.ParseLine(line)
		if err != nil {
			fmt.Printf("%d: %s -- %v\n", lineNo, line, err)
			errCount++
			continue
		}
		for _, intent := range intents {
			plannerPos.Set(intent.TargetMM)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if errCount > 0 {
		fmt.Fprintf(os.Stderr, "%d error(s) found\n", errCount)
		os.Exit(1)
	}
	fmt.Printf("%d lines, no errors\n", lineNo)
}
