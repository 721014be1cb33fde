package cmd

import (
	"fmt"

	"github.com/roffe/curf"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List available adapters",
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range curf.ListAdapters() {
			fmt.Println(a.String())
		}
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
