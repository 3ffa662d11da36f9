package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mib2ctl/axspoof/pkg/eeprom"
)

var (
	dumpOffset string
	dumpLength string
	dumpRaw    bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump [file]",
	Short: "Read the adapter EEPROM",
	Long:  `Reads the adapter EEPROM and prints a hex dump, or writes it to file.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, err := parseNumber(dumpOffset)
		if err != nil {
			return err
		}
		length, err := parseNumber(dumpLength)
		if err != nil {
			return err
		}
		if length == 0 || offset+length > eeprom.Size {
			return fmt.Errorf("range 0x%02x+%d outside the %d byte EEPROM", offset, length, eeprom.Size)
		}

		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		var data []byte
		if offset == 0 && length == eeprom.Size {
			img, err := e.session.Dump(cmd.Context(), func(p eeprom.Progress) {
				slog.Debug("Dumping", "percent", p.Percent())
			})
			if err != nil {
				return err
			}
			data = img.Bytes()
		} else {
			data, err = e.port.Read(cmd.Context(), uint16(offset), uint16(length))
			if err != nil {
				return err
			}
		}

		if len(args) == 1 {
			if !dumpRaw {
				data = []byte(hex.Dump(data))
			}
			if err := os.WriteFile(args[0], data, 0644); err != nil {
				return err
			}
			slog.Info("Dump written", "path", args[0], "bytes", length)
			return nil
		}
		if dumpRaw {
			_, err = os.Stdout.Write(data)
			return err
		}
		fmt.Print(hex.Dump(data))
		return nil
	},
}
