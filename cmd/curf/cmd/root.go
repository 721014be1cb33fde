package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/config"
	"github.com/roffe/curf/pkg/session"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "curf",
	Short:        "CAN stimulus and verification tool",
	Long:         `Send frames, signals and diagnostic requests on a CAN bus and verify what comes back`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagCANRate  = "canrate"
	flagDebug    = "debug"
	flagAdapter  = "adapter"
	flagDB       = "db"
	flagConfig   = "config"
	flagTestName = "test-name"
	flagOutput   = "output"
	flagCapture  = "capture"
	flagTimeout  = "timeout"
	flagNode     = "node"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagAdapter, "a", "", "what adapter to use, empty = choose interactively")
	pf.StringP(flagPort, "p", "", "port or channel, e.g. COM3, /dev/ttyUSB0 or can0")
	pf.IntP(flagBaudrate, "b", 115200, "serial port baudrate")
	pf.Float64(flagCANRate, 500, "CAN bitrate in kbit/s")
	pf.String(flagDB, "", "DBC database")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.StringP(flagConfig, "c", "", "session config file (yaml)")
	pf.String(flagTestName, "", "test name used for the capture file")
	pf.String(flagOutput, "", "capture output directory")
	pf.Bool(flagCapture, false, "record the bus traffic to the output directory")
}

// loadConfig reads --config if given and applies the flags that were set on top
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	pf := cmd.Flags()
	cfg := config.Default()
	cfg.Adapter = ""
	cfg.Capture = false
	if file, _ := pf.GetString(flagConfig); file != "" {
		c, err := config.Load(file)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	str := func(name string, dst *string) {
		if pf.Changed(name) {
			*dst, _ = pf.GetString(name)
		}
	}
	str(flagAdapter, &cfg.Adapter)
	str(flagPort, &cfg.Port)
	str(flagDB, &cfg.Database)
	str(flagTestName, &cfg.TestName)
	str(flagOutput, &cfg.OutputDir)
	if pf.Changed(flagBaudrate) {
		cfg.PortBaudrate, _ = pf.GetInt(flagBaudrate)
	}
	if pf.Changed(flagCANRate) {
		cfg.CANRate, _ = pf.GetFloat64(flagCANRate)
	}
	if pf.Changed(flagDebug) {
		cfg.Debug, _ = pf.GetBool(flagDebug)
	}
	if pf.Changed(flagCapture) {
		cfg.Capture, _ = pf.GetBool(flagCapture)
	}
	if cfg.Adapter == "" {
		name, err := selectAdapter()
		if err != nil {
			return nil, err
		}
		cfg.Adapter = name
	}
	return cfg, cfg.Validate()
}

func selectAdapter() (string, error) {
	prompt := promptui.Select{
		Label: "Select adapter",
		Items: curf.ListAdapterNames(),
	}
	_, result, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("adapter selection: %w", err)
	}
	return result, nil
}

func openSession(cmd *cobra.Command) (*session.Session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return session.Open(cmd.Context(), cfg)
}

// verdict prints the outcome of a check, the error is returned so the exit code follows
func verdict(what string, err error) error {
	if err == nil {
		color.Green("PASS %s", what)
		return nil
	}
	color.Red("FAIL %s: %v", what, err)
	return err
}
