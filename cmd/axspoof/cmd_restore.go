package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mib2ctl/axspoof/pkg/backup"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
)

var restoreForce bool

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Write a backup image back to the adapter",
	Long: `Writes every byte of a stored backup back to the adapter EEPROM and verifies
it with a full read-back.

An adapter left with a broken identity will not be found by scanning. Select
it with --device VID:PID (as shown by 'axspoof devices') and pass --force.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		bricked := e.session.DetectBricked()
		if bricked && !restoreForce {
			warnColor.Printf("Adapter identifies as %s, which looks bricked. Use --force to restore onto it.\n", e.adapter.Identity)
			return fmt.Errorf("refusing plain restore onto unexpected identity")
		}

		if err := e.port.Unlock(eeprom.WriteMagic); err != nil {
			return err
		}
		defer e.port.Lock()

		progress := func(p eeprom.Progress) {
			slog.Debug("Restore progress", "op", p.Operation, "percent", p.Percent())
		}
		ctx := cmd.Context()
		if restoreForce {
			confirmBackup := func(b backup.Backup) bool {
				headingColor.Printf("Backup %s\n", b.ID)
				fmt.Printf("  Taken:    %s\n", b.Timestamp.Local().Format("2006-01-02 15:04:05"))
				fmt.Printf("  Identity: %s\n", b.Identity())
				fmt.Printf("  Checksum: %s\n", b.Checksum)
				ok, err := confirm(fmt.Sprintf("This overwrites the whole EEPROM of %s.", e.adapter.Identity), "FORCE")
				if err != nil {
					slog.Error("Confirmation failed", "err", err)
					return false
				}
				return ok
			}
			res, err := e.session.ForceRestore(ctx, id, confirmBackup, progress)
			if err != nil {
				return err
			}
			printRestore(res.BackupID, res.BytesWritten, res.Duration().String())
			return nil
		}

		ok, err := confirm(fmt.Sprintf("This overwrites the whole EEPROM of %s with backup %s.", e.adapter.Identity, id), "yes")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("aborted")
		}
		res, err := e.session.Restore(ctx, id, progress)
		if err != nil {
			return err
		}
		printRestore(res.BackupID, res.BytesWritten, res.Duration().String())
		return nil
	},
}

func printRestore(id string, written int, took string) {
	okColor.Printf("Restored %s (%d bytes, verified) in %s\n", id, written, took)
	fmt.Println("Replug the adapter to apply the restored identity.")
}
