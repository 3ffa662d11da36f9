package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/recovery"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List attached USB Ethernet adapters",
	Long: `Lists attached USB devices that are known adapters, carry the configured
target identity or look like a bricked adapter, followed by the table of
known adapters.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		target, err := configTarget(cfg)
		if err != nil {
			return err
		}
		descs, err := attachedDevices()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BUS\tADDR\tID\tCHIPSET\tSUPPORT\tSTATE")
		found := 0
		for _, d := range descs {
			vid, pid := uint16(d.Vendor), uint16(d.Product)
			_, known := devices.Lookup(vid, pid)
			isTarget := vid == target.VendorID && pid == target.ProductID
			zero := vid == 0 && pid == 0
			if !known && !isTarget && !zero && vid != devices.VendorASIX {
				continue
			}
			found++
			id := devices.IdentityFor(vid, pid, "")
			state := "ok"
			if recovery.DetectBricked(id, target) {
				state = "bricked?"
			} else if isTarget {
				state = "spoofed"
			}
			fmt.Fprintf(w, "%d\t%d\t%s:%s\t%s\t%s\t%s\n", d.Bus, d.Address,
				devices.FormatID(vid), devices.FormatID(pid), id.Chipset, devices.Classify(id.Chipset), state)
		}
		if found == 0 {
			fmt.Fprintln(w, "(none)")
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Println()
		headingColor.Println("Known adapters")
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, d := range devices.Descriptions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID(), d.Kind, devices.Classify(d.Kind.String()), d.Name)
		}
		return w.Flush()
	},
}
