package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mib2ctl/axspoof/pkg/backup"
	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
)

var (
	backupNotes    string
	backupExportXZ bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage EEPROM backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Back up the attached adapter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		b, err := e.session.CreateBackup(cmd.Context(), backupNotes, func(p eeprom.Progress) {
			slog.Debug("Reading", "percent", p.Percent())
		})
		if err != nil {
			return err
		}
		okColor.Printf("Created %s\n", b.ID)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored backups, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeFromFlags(cmd)
		if err != nil {
			return err
		}
		list, err := store.List()
		if len(list) == 0 && err == nil {
			fmt.Printf("No backups in %s\n", store.Dir())
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTAKEN\tIDENTITY\tCHIPSET\tENC\tNOTES")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%s\t%s:%s\t%s\t%v\t%s\n", s.ID, s.Timestamp.Local().Format("2006-01-02 15:04"),
				devices.FormatID(s.VendorID), devices.FormatID(s.ProductID), s.Chipset, s.Encrypted, s.Notes)
		}
		w.Flush()
		if err != nil {
			slog.Warn("Some backups could not be read", "err", err)
		}
		return nil
	},
}

var backupShowCmd = &cobra.Command{
	Use:   "show <backup-id>",
	Short: "Verify a backup and print its contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeFromFlags(cmd)
		if err != nil {
			return err
		}
		b, err := store.Load(args[0])
		if err != nil {
			return err
		}
		headingColor.Println(b.ID)
		fmt.Printf("  Taken:     %s\n", b.Timestamp.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("  Adapter:   %s\n", b.Identity())
		fmt.Printf("  Image ID:  %s\n", b.Data.Identity())
		fmt.Printf("  Encrypted: %v\n", b.Encrypted)
		fmt.Printf("  Checksum:  %s (verified)\n", b.Checksum)
		if b.Notes != "" {
			fmt.Printf("  Notes:     %s\n", b.Notes)
		}
		if b.Data.Blank() {
			warnColor.Println("Image is blank.")
		}
		fmt.Print(b.Data.HexDump())
		return nil
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id>",
	Short: "Delete a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeFromFlags(cmd)
		if err != nil {
			return err
		}
		ok, err := confirm(fmt.Sprintf("Backup %s will be deleted.", args[0]), "yes")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("aborted")
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		slog.Info("Deleted backup", "id", args[0])
		return nil
	},
}

var backupExportCmd = &cobra.Command{
	Use:   "export <backup-id> [file]",
	Short: "Export the decrypted image of a backup",
	Long:  `Writes the 256 byte image of a backup to file, or to stdout when no file is given.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeFromFlags(cmd)
		if err != nil {
			return err
		}
		var w io.Writer = os.Stdout
		if len(args) == 2 {
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if err := store.Export(args[0], w, backupExportXZ); err != nil {
			return err
		}
		if len(args) == 2 {
			slog.Info("Exported backup", "id", args[0], "path", args[1], "xz", backupExportXZ)
		}
		return nil
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a raw or xz compressed image as a backup",
	Long: `Stores an image produced by 'axspoof dump --raw' or 'axspoof backup export'
as a new backup. The identity is taken from the image itself unless --device
is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeFromFlags(cmd)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		var identity devices.Identity
		if deviceID != "" {
			vid, pid, err := parseVIDPID(deviceID)
			if err != nil {
				return err
			}
			identity = devices.IdentityFor(vid, pid, "")
		}
		b, err := store.Import(f, identity, backupNotes)
		if err != nil {
			return err
		}
		okColor.Printf("Imported %s as %s\n", args[0], b.ID)
		return nil
	},
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openBackupStore(cfg)
		if err != nil {
			return err
		}
		n, err := store.Prune(cfg.Backup.Keep)
		if err != nil {
			return err
		}
		size, err := store.TotalSize()
		if err != nil {
			return err
		}
		slog.Info("Pruned backups", "deleted", n, "kept", cfg.Backup.Keep, "bytes", size)
		return nil
	},
}

func storeFromFlags(cmd *cobra.Command) (*backup.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openBackupStore(cfg)
}
