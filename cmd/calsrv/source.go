package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nasa-jpl/hcifs/generichttp/ascii"
	"github.com/nasa-jpl/hcifs/source"
)

// openSource constructs only the configured source
func openSource() (source.Capability, error) {
	c, err := loadConfig()
	if err != nil {
		return nil, err
	}
	b, err := OpenBench(c)
	if err != nil {
		return nil, err
	}
	return b.Source, nil
}

func newSourceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Drive the configured source by hand",
	}

	set := &cobra.Command{
		Use:   "set <channel> <mA>",
		Short: "Set the current of a channel; 0 turns the channel off",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			ch, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Wrap(err, "channel")
			}
			mA, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return errors.Wrap(err, "current")
			}
			src, err := openSource()
			if err != nil {
				return err
			}
			return src.SetCurrent(mA, ch)
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the status word of the source",
		RunE: func(_ *cobra.Command, _ []string) error {
			src, err := openSource()
			if err != nil {
				return err
			}
			s, err := src.Status()
			if err != nil {
				return err
			}
			fmt.Println(s)
			return nil
		},
	}

	raw := &cobra.Command{
		Use:   "raw <command>",
		Short: "Send a raw command and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			src, err := openSource()
			if err != nil {
				return err
			}
			rc, ok := src.(ascii.RawCommunicator)
			if !ok {
				return errors.Errorf("source %T does not accept raw commands", src)
			}
			resp, err := rc.Raw(args[0])
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	}

	cmd.AddCommand(set, status, raw)
	return cmd
}
