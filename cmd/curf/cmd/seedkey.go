package cmd

import (
	"fmt"

	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/uds"
	"github.com/spf13/cobra"
)

var seedkeyCmd = &cobra.Command{
	Use:   "seedkey <seed> <constant1> <constant2>",
	Short: "Compute a security access key from a seed",
	Long: `Adds the seed and both constants as 32 bit hex values. With --secret the key is the
AES-CMAC of the seed instead and the constants are not used.`,
	Args: cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		if secret != "" {
			k, err := curf.ParseHex(secret)
			if err != nil {
				return err
			}
			seed, err := curf.ParseHex(args[0])
			if err != nil {
				return err
			}
			key, err := uds.CMACKey(k, seed)
			if err != nil {
				return err
			}
			fmt.Printf("%X\n", key)
			return nil
		}
		if len(args) != 3 {
			return fmt.Errorf("seedkey needs a seed and two constants")
		}
		key, err := uds.KeyFromSeed(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

func init() {
	seedkeyCmd.Flags().String("secret", "", "AES key (hex) for CMAC based security access")
	rootCmd.AddCommand(seedkeyCmd)
}
