package cmd

import (
	"fmt"
	"time"

	"github.com/roffe/curf"
	"github.com/roffe/curf/pkg/config"
	"github.com/roffe/curf/pkg/dtc"
	"github.com/roffe/curf/pkg/match"
	"github.com/roffe/curf/pkg/session"
	"github.com/spf13/cobra"
)

var diagCmd = &cobra.Command{
	Use:   "diag <request> <expected|ANY|NoReception>",
	Short: "Send a diagnostic request and check the response",
	Long: `Sends the hex request over ISO-TP and compares the response with the expected hex
using the match policy. Response pending (7F xx 78) extends the wait.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		timeout, _ := f.GetDuration(flagTimeout)
		target, _ := f.GetString("target")
		policyName, _ := f.GetString("policy")
		policy, err := match.ParsePolicy(policyName)
		if err != nil {
			return err
		}

		s, err := openDiagSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		client, err := s.Diag()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := client.SendRequestHex(ctx, args[0], target); err != nil {
			return verdict("request "+args[0], err)
		}
		res, err := client.CheckResponse(ctx, args[1], timeout, policy)
		fmt.Printf("%s: %s\n", res.Outcome, res.Payload)
		if res.Payload != "" {
			printDTCs(res.Payload)
		}
		return verdict(fmt.Sprintf("response to %s %s %s", args[0], policy, args[1]), err)
	},
}

// openDiagSession applies the ISO-TP flags to the session config before opening it
func openDiagSession(cmd *cobra.Command) (*session.Session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	if cfg.ISOTP == nil {
		cfg.ISOTP = config.DefaultISOTP()
		cfg.ISOTP.Source = "7E0"
		cfg.ISOTP.Destination = "7E8"
	}
	for name, dst := range map[string]*string{
		"source":      &cfg.ISOTP.Source,
		"destination": &cfg.ISOTP.Destination,
		"mode":        &cfg.ISOTP.Mode,
	} {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return session.Open(cmd.Context(), cfg)
}

func printDTCs(payload string) {
	data, err := curf.ParseHex(payload)
	if err != nil {
		return
	}
	mask, codes, ok := dtc.ParseReport(data)
	if !ok {
		return
	}
	fmt.Printf("availability mask %02X, %d DTC(s)\n", mask, len(codes))
	for _, c := range codes {
		fmt.Println(" ", c.String())
	}
}

func init() {
	f := diagCmd.Flags()
	f.Duration(flagTimeout, time.Second, "response timeout, restarted by response pending")
	f.String("policy", match.Exact.String(), "match policy: EXACT, CONTAIN, START or NOTSTART")
	f.String("target", "Physical", "Physical or Functional addressing")
	f.String("source", "", "tester identifier (hex)")
	f.String("destination", "", "ECU identifier (hex)")
	f.String("mode", "", "addressing mode, e.g. Normal_11bits or NormalFixed_29bits")
	rootCmd.AddCommand(diagCmd)
}
