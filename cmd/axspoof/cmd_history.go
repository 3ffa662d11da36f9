package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/history"
)

var (
	historyLimit int
	historyStats bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past spoof, restore and diagnose operations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		h, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer h.Close()

		if historyStats {
			st, err := h.Stats(cmd.Context())
			if err != nil {
				return err
			}
			headingColor.Printf("%d operations, average %s\n", st.Total, st.AverageDuration)
			for t, n := range st.ByType {
				fmt.Printf("  %-14s %d\n", t, n)
			}
			for o, n := range st.ByOutcome {
				fmt.Printf("  %-14s %d\n", o, n)
			}
			return nil
		}

		ops, err := h.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tTYPE\tADAPTER\tTARGET\tOUTCOME\tTOOK\tDETAIL")
		for _, op := range ops {
			typ := string(op.Type)
			if op.DryRun {
				typ += " (dry)"
			}
			target := "-"
			if op.TargetVID != 0 || op.TargetPID != 0 {
				target = devices.FormatID(op.TargetVID) + ":" + devices.FormatID(op.TargetPID)
			}
			detail := op.BackupID
			if op.Error != "" {
				detail = op.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s:%s\t%s\t%s\t%s\t%s\n", op.Timestamp.Local().Format("2006-01-02 15:04:05"), typ,
				devices.FormatID(op.VendorID), devices.FormatID(op.ProductID), target, op.Outcome, op.Duration, detail)
		}
		return w.Flush()
	},
}
