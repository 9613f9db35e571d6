/*calsrv calibrates the light sources of an optical testbed.

It drives a source until the secondary peak of its image on a camera sits just
below saturation, either once from the command line or on request over HTTP.
*/
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "calsrv.yml"

	debug bool
	mock  bool
)

func setupLogger() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

// loadConfig reads the config and applies the command line flags to it
func loadConfig() (Config, error) {
	_, c, err := LoadConfig(ConfigFileName)
	if err != nil {
		return c, err
	}
	if mock {
		c.Mock = true
	}
	return c, nil
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the source, camera, and calibration over HTTP",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			b, err := OpenBench(c)
			if err != nil {
				return err
			}
			mux := BuildMux(c, b, logrus.StandardLogger())
			logrus.WithFields(logrus.Fields{"addr": c.Addr, "mock": c.Mock}).Info("now listening for requests")
			return http.ListenAndServe(c.Addr, mux)
		},
	}
}

func newMkconfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkconf",
		Short: "Write the default configuration to " + ConfigFileName,
		RunE: func(_ *cobra.Command, _ []string) error {
			f, err := os.Create(ConfigFileName)
			if err != nil {
				return err
			}
			defer f.Close()
			return WriteConfig(f, DefaultConfig())
		},
	}
}

func newConfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conf",
		Short: "Print the effective configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			return WriteConfig(os.Stdout, c)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("calsrv version %v\n", Version)
		},
	}
}

// NewCommand returns the root command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calsrv",
		Short: "calsrv calibrates testbed light sources against a camera",
		Long: `calsrv calibrates testbed light sources against a camera.

It is amenable to configuration via its .yml file, calsrv.yml in the working
directory.  mkconf writes the defaults to get started from.  Any key may be
overridden from the environment, e.g. CALSRV_CALIBRATION_CHANNEL=2.

Sources, by "Type": mcls1 (Thorlabs MCLS1), itc4000 (Thorlabs ITC4000), mock
Cameras, by "Type": http (a remote camera server), mock`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogger()
		},
	}
	flags := cmd.PersistentFlags()
	flags.BoolVar(&debug, "debug", false, "log at debug level")
	flags.BoolVar(&mock, "mock", false, "use a simulated bench")
	flags.StringVar(&ConfigFileName, "config", ConfigFileName, "config file path")

	cmd.AddCommand(
		newRunCommand(),
		newCalibrateCommand(),
		newSourceCommand(),
		newMkconfCommand(),
		newConfCommand(),
		newVersionCommand(),
	)
	return cmd
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
