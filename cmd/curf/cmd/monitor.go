package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/roffe/curf"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [identifier...]",
	Short: "Monitor the CANbus for frames",
	Long:  `Print frames as they arrive, optionally only the given hex identifiers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]uint32, 0, len(args))
		for _, a := range args {
			id, err := curf.ParseIdentifier(a)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		sub := s.Client().Subscribe(ctx, ids...)
		start := time.Now()
		count := 0
		for f := range sub.Chan() {
			count++
			fmt.Printf("%10.4f %s\n", f.Timestamp.Sub(start).Seconds(), f.ColorString())
		}
		fmt.Printf("%d frames in %s\n", count, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	monitorCmd.Flags().Duration("duration", 0, "stop after this long, 0 = until interrupted")
	rootCmd.AddCommand(monitorCmd)
}
