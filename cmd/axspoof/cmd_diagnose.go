package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mib2ctl/axspoof/pkg/eeprom"
	"github.com/mib2ctl/axspoof/pkg/recovery"
)

var diagnoseWriteTest bool

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check adapter and EEPROM health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		if diagnoseWriteTest {
			if err := e.port.Unlock(eeprom.WriteMagic); err != nil {
				return err
			}
			defer e.port.Lock()
		}
		d, err := e.session.Diagnose(cmd.Context(), diagnoseWriteTest)
		if err != nil {
			return err
		}

		headingColor.Println(d.Identity)
		fmt.Printf("  Descriptors readable: %v\n", d.DescriptorsReadable)
		fmt.Printf("  EEPROM readable:      %v\n", d.EEPROMReadable)
		if d.WriteTested {
			fmt.Printf("  EEPROM writable:      %v\n", d.EEPROMWritable)
		}
		fmt.Printf("  Unexpected identity:  %v\n", d.UnexpectedIdentity)
		switch d.Health {
		case recovery.HealthHealthy:
			okColor.Printf("Health: %s\n", d.Health)
		case recovery.HealthDegraded:
			warnColor.Printf("Health: %s\n", d.Health)
		default:
			errColor.Printf("Health: %s\n", d.Health)
		}
		for _, i := range d.Issues {
			warnColor.Printf("  issue: %s\n", i)
		}
		for _, r := range d.Recommendations {
			fmt.Printf("  -> %s\n", r)
		}
		return nil
	},
}
