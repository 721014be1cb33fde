package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single frame or signal",
}

var sendFrameCmd = &cobra.Command{
	Use:   "frame <identifier> <payload>",
	Short: "Send a raw frame, identifier and payload in hex",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		return verdict(fmt.Sprintf("send %s#%s", args[0], args[1]), s.SendFrame(args[0], args[1]))
	},
}

var sendSignalCmd = &cobra.Command{
	Use:   "signal <name> <value>",
	Short: "Send the message carrying a signal, other signals are zero",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid signal value %q: %w", args[1], err)
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		return verdict(fmt.Sprintf("send %s=%s", args[0], args[1]), s.SendSignal(args[0], value))
	},
}

func init() {
	sendCmd.AddCommand(sendFrameCmd, sendSignalCmd)
	rootCmd.AddCommand(sendCmd)
}
