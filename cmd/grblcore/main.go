package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	grblcore "github.com/grbl-go/grblcore"
	"github.com/grbl-go/grblcore/hal"
	"github.com/grbl-go/grblcore/transport"
)

// logAdapter satisfies grblcore.Logger over a *log.Logger without the core
// package importing charmbracelet/log directly.
type logAdapter struct{ l *log.Logger }

func (a logAdapter) Debugf(format string, args ...any) { a.l.Debugf(format, args...) }
func (a logAdapter) Infof(format string, args ...any)  { a.l.Infof(format, args...) }
func (a logAdapter) Warnf(format string, args ...any)  { a.l.Warnf(format, args...) }
func (a logAdapter) Errorf(format string, args ...any) { a.l.Errorf(format, args...) }

func main() {
	var device = pflag.StringP("device", "d", "", "Serial device to open, e.g. /dev/ttyUSB0. Empty opens a local pty for development.")
	var baud = pflag.IntP("baud", "b", 115200, "Serial baud rate.")
	var settingsFile = pflag.StringP("settings-file", "s", "grblcore-settings.yaml", "Path to the persisted settings file.")
	var gpioChip = pflag.StringP("gpio-chip", "g", "", "Linux gpiochip device to drive step/dir lines from, e.g. gpiochip0. Empty runs a software-simulated pulse source.")
	var verbose = pflag.BoolP("verbose", "v", false, "Enable debug logging.")
	var help = pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "grblcore: a GRBL-compatible 4-axis motion-control core\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}
	adapter := logAdapter{logger}

	settings := grblcore.LoadSettings(*settingsFile, adapter)

	var rw interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
		Close() error
	}

	if *device == "" {
		p, err := transport.OpenPty()
		if err != nil {
			logger.Errorf("open pty: %v", err)
			os.Exit(1)
		}
		logger.Infof("no --device given; development pty opened, host side at %s", p.Replica.Name())
		rw = p
	} else {
		s, err := transport.OpenSerial(*device, *baud)
		if err != nil {
			logger.Errorf("open serial: %v", err)
			os.Exit(1)
		}
		rw = s
	}
	defer rw.Close()

	channels := [grblcore.NumAxes]grblcore.PulseChannel{}
	if *gpioChip == "" {
		logger.Infof("no --gpio-chip given; running with simulated pulse channels")
		for a := range channels {
			channels[a] = &hal.SimChannel{}
		}
	} else {
		pulseWidth := time.Duration(settings.StepPulseMicros * float64(time.Microsecond))
		for a := range channels {
			stepOffset := a * 2
			dirOffset := a*2 + 1
			ch, err := hal.NewGPIOChannel(*gpioChip, stepOffset, dirOffset, pulseWidth)
			if err != nil {
				logger.Errorf("open gpio channel for axis %d: %v", a, err)
				os.Exit(1)
			}
			channels[a] = ch
		}
	}

	controller := grblcore.NewController(settings, rw, channels, adapter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller.RunStartupLines()
	if err := controller.Run(ctx); err != nil {
		logger.Errorf("controller stopped: %v", err)
		os.Exit(1)
	}
}
