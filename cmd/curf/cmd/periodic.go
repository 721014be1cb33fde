package cmd

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/scheduler"
	"github.com/spf13/cobra"
)

var periodicCmd = &cobra.Command{
	Use:   "periodic",
	Short: "Send frames, messages or signals cyclically until interrupted",
}

// runPeriodic opens a session, starts one task and keeps it alive for --duration or
// until interrupted
func runPeriodic(cmd *cobra.Command, what string, start func(*scheduler.Scheduler, time.Duration) (*curf.PeriodicTask, error)) error {
	period, _ := cmd.Flags().GetDuration("period")
	duration, _ := cmd.Flags().GetDuration("duration")
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := start(s.Scheduler(), period); err != nil {
		return verdict(what, err)
	}
	log.Printf("sending %s every %s", what, period)

	ctx := cmd.Context()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	<-ctx.Done()
	stopped := s.StopPeriodic()
	return verdict(fmt.Sprintf("%s, %d task(s) stopped", what, stopped), nil)
}

var periodicFrameCmd = &cobra.Command{
	Use:   "frame <identifier> <payload>",
	Short: "Send a raw frame cyclically",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPeriodic(cmd, "frame "+args[0], func(s *scheduler.Scheduler, p time.Duration) (*curf.PeriodicTask, error) {
			return s.StartPeriodicFrame(args[0], args[1], p)
		})
	},
}

var periodicMessageCmd = &cobra.Command{
	Use:   "message <name> [payload]",
	Short: "Send a database message cyclically, without payload every signal is zero",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data := ""
		if len(args) == 2 {
			data = args[1]
		}
		return runPeriodic(cmd, "message "+args[0], func(s *scheduler.Scheduler, p time.Duration) (*curf.PeriodicTask, error) {
			return s.StartPeriodicMessage(args[0], p, data)
		})
	},
}

var periodicSignalCmd = &cobra.Command{
	Use:   "signal <name> <value>",
	Short: "Send the message carrying a signal cyclically",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid signal value %q: %w", args[1], err)
		}
		return runPeriodic(cmd, "signal "+args[0], func(s *scheduler.Scheduler, p time.Duration) (*curf.PeriodicTask, error) {
			return s.StartPeriodicSignal(args[0], value, p)
		})
	},
}

func init() {
	pf := periodicCmd.PersistentFlags()
	pf.Duration("period", 100*time.Millisecond, "transmission period")
	pf.Duration("duration", 0, "stop after this long, 0 = until interrupted")
	periodicCmd.AddCommand(periodicFrameCmd, periodicMessageCmd, periodicSignalCmd)
	rootCmd.AddCommand(periodicCmd)
}
