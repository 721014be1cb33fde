package cmd

import (
	"fmt"
	"time"

	"github.com/roffe/curf/pkg/bar"
	"github.com/roffe/curf/pkg/reception"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify frames, messages, signals and periods on the bus",
}

var checkFrameCmd = &cobra.Command{
	Use:   "frame <identifier> <payload|ANY|NoReception>",
	Short: "Wait for a frame and compare its payload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration(flagTimeout)
		node, _ := cmd.Flags().GetString(flagNode)
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		err = s.Matcher().CheckFrame(cmd.Context(), args[0], args[1], timeout, node)
		return verdict(fmt.Sprintf("frame %s %s", args[0], args[1]), err)
	},
}

var checkMessageCmd = &cobra.Command{
	Use:   "message <name>",
	Short: "Wait for a database message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration(flagTimeout)
		node, _ := cmd.Flags().GetString(flagNode)
		absent, _ := cmd.Flags().GetBool("absent")
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		err = s.Matcher().CheckMessage(cmd.Context(), args[0], timeout, absent, node)
		what := "message " + args[0]
		if absent {
			what += " absent"
		}
		return verdict(what, err)
	},
}

var checkSignalCmd = &cobra.Command{
	Use:   "signal <name> <value|ANY|NoReception>",
	Short: "Wait for the message carrying a signal and compare the decoded value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration(flagTimeout)
		node, _ := cmd.Flags().GetString(flagNode)
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		err = s.Matcher().CheckSignal(cmd.Context(), args[0], args[1], timeout, node)
		return verdict(fmt.Sprintf("signal %s = %s", args[0], args[1]), err)
	},
}

var checkPeriodCmd = &cobra.Command{
	Use:   "period <identifier> <period>",
	Short: "Measure the mean period of a cyclic frame",
	Long:  `Samples frames of the identifier and checks that the mean interval is within 10% of period, e.g. 100ms`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid period %q: %w", args[1], err)
		}
		samples, _ := cmd.Flags().GetInt("samples")
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		b := bar.New(samples, "sampling 0x"+args[0])
		m := reception.New(s.Client(), s.Database(), reception.WithTickHook(bar.TickHook(b)))
		err = m.CheckPeriod(cmd.Context(), args[0], period, samples)
		_ = b.Finish()
		return verdict(fmt.Sprintf("period of %s is %s", args[0], period), err)
	},
}

func init() {
	for _, c := range []*cobra.Command{checkFrameCmd, checkMessageCmd, checkSignalCmd} {
		c.Flags().Duration(flagTimeout, time.Second, "how long to wait")
		c.Flags().String(flagNode, "", "database node, empty = first node")
	}
	checkMessageCmd.Flags().Bool("absent", false, "the message must not be received")
	checkPeriodCmd.Flags().Int("samples", 10, "number of frames to sample")
	checkCmd.AddCommand(checkFrameCmd, checkMessageCmd, checkSignalCmd, checkPeriodCmd)
	rootCmd.AddCommand(checkCmd)
}
