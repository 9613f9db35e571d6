package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/hcifs/calib"
)

// spinnerHook shows the progress of a calibration on a spinner
type spinnerHook struct {
	s *yacspin.Spinner
}

func (h spinnerHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.InfoLevel}
}

func (h spinnerHook) Fire(e *logrus.Entry) error {
	switch e.Message {
	case "probing":
		h.s.Message(fmt.Sprintf("probing at %v mA", e.Data["current"]))
	case "adjusted current":
		h.s.Message(fmt.Sprintf("iteration %v: %.2f mA, %.3f of saturation",
			e.Data["iteration"], e.Data["current"], e.Data["fraction"]))
	}
	return nil
}

func newSpinner(w io.Writer) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " calibrating",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
}

// printResult writes a human readable summary of res to w
func printResult(w io.Writer, res calib.Result) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(w, "%s %s mA after %d iterations\n", bold("current:"), green(fmt.Sprintf("%.2f", res.Current)), res.Iterations)
	fmt.Fprintf(w, "%s (%.2f, %.2f) intensity %.1f\n", bold("center:   "), res.Center.Row, res.Center.Col, res.Center.Intensity)
	fmt.Fprintf(w, "%s (%.0f, %.0f) intensity %.1f\n", bold("secondary:"), res.Secondary.Row, res.Secondary.Col, res.Secondary.Intensity)
}

func newCalibrateCommand() *cobra.Command {
	var channel int
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate one channel of the source and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("channel") {
				c.Calibration.Channel = channel
			}
			b, err := OpenBench(c)
			if err != nil {
				return err
			}

			spinner, err := newSpinner(os.Stderr)
			if err != nil {
				return err
			}
			log := logrus.New()
			log.SetOutput(io.Discard)
			if debug {
				log.SetOutput(os.Stderr)
				log.SetLevel(logrus.DebugLevel)
			}
			log.AddHook(spinnerHook{s: spinner})
			cfg := c.Calibration
			cfg.Log = logrus.NewEntry(log)

			if !debug {
				if err = spinner.Start(); err != nil {
					return err
				}
			}
			res, err := calib.Calibrate(b.Camera, b.Source, cfg)
			if err != nil {
				spinner.StopFailMessage(err.Error())
				spinner.StopFail()
				color.New(color.FgRed).Fprintln(os.Stderr, "calibration failed:", err)
				return err
			}
			spinner.StopMessage("done")
			spinner.Stop()
			printResult(os.Stdout, res)
			return nil
		},
	}
	cmd.Flags().IntVar(&channel, "channel", 1, "source channel to calibrate")
	return cmd
}
