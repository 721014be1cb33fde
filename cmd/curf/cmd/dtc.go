package cmd

import (
	"fmt"

	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/dtc"
	"github.com/spf13/cobra"
)

var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "Decode DTC responses offline",
}

var dtcStatusCmd = &cobra.Command{
	Use:   "status <bit> <0|1> <snapshot>",
	Short: "Check one statusOfDTC bit in a 59 response",
	Long:  fmt.Sprintf("bit is one of %v", dtc.StatusBitNames()),
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if status, err := dtc.StatusByte(args[2]); err == nil {
			fmt.Printf("status %02X: %s\n", status, dtc.StatusString(status))
		}
		return verdict(fmt.Sprintf("%s = %s", args[0], args[1]), dtc.CheckStatusBit(args[0], args[1], args[2]))
	},
}

var dtcDecodeCmd = &cobra.Command{
	Use:   "decode <payload>",
	Short: "List the DTCs of a 59 02 response",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := curf.ParseHex(args[0])
		if err != nil {
			return err
		}
		if _, _, ok := dtc.ParseReport(data); !ok {
			return fmt.Errorf("%s is not a reportDTCByStatusMask response", curf.NormalizeHex(args[0]))
		}
		printDTCs(args[0])
		return nil
	},
}

func init() {
	dtcCmd.AddCommand(dtcStatusCmd, dtcDecodeCmd)
	rootCmd.AddCommand(dtcCmd)
}
