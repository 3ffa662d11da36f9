package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var rootCmd = &cobra.Command{
	Use:   "axspoof",
	Short: "axspoof rewrites the USB identity of ASIX Ethernet adapters",
	Long: `Reads, backs up and rewrites the VID/PID stored in the EEPROM of ASIX
AX88772-family USB Ethernet adapters, so that head units which only accept a
specific adapter (such as the D-Link DUB-E100 rev C1) will bind to it.

Every write is preceded by an encrypted backup and followed by a read-back.
Backups can be restored with 'axspoof restore'.

axspoof comes with ABSOLUTELY NO WARRANTY. Writing the EEPROM can leave an
adapter unusable until it is restored.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLogging()
	},
}

var (
	verboseLog bool
	logFile    string
	configPath string
	deviceID   string
	yesFlag    bool
)

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verboseLog, "verbose", "v", false, "Enable verbose debug logging")
	pf.StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")
	pf.StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: search $XDG_CONFIG_HOME/axspoof and .)")
	pf.StringVarP(&deviceID, "device", "d", "", "Open the adapter with this VID:PID instead of scanning for known adapters")
	pf.BoolVarP(&yesFlag, "yes", "y", false, "Do not ask for confirmation")
	// The following are read through the config package.
	pf.Duration("usb-timeout", 0, "USB control transfer timeout (default 5s)")
	pf.Duration("write-delay", 0, "Delay after each EEPROM byte write (default 10ms)")
	pf.String("backup-dir", "", "Backup directory")
	pf.Bool("encrypt", true, "Encrypt new backups at rest")
	pf.String("keystore-dir", "", "Directory holding the backup encryption key")
	pf.String("history-db", "", "Path of the operation history database")

	spoofCmd.Flags().String("vid", "", "Target vendor ID (default from config, 0x2001)")
	spoofCmd.Flags().String("pid", "", "Target product ID (default from config, 0x3C05)")
	spoofCmd.Flags().BoolVarP(&spoofDryRun, "dry-run", "n", false, "Only show what would be written")
	spoofCmd.Flags().Bool("allow-experimental", false, "Allow writing to chipsets classified as experimental")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "Restore onto an adapter that no longer identifies correctly")
	dumpCmd.Flags().StringVarP(&dumpOffset, "offset", "o", "0", "Start offset")
	dumpCmd.Flags().StringVarP(&dumpLength, "length", "l", "256", "Number of bytes")
	dumpCmd.Flags().BoolVar(&dumpRaw, "raw", false, "Write raw bytes instead of a hex dump")
	diagnoseCmd.Flags().BoolVarP(&diagnoseWriteTest, "write-test", "w", false, "Also check that the EEPROM accepts writes (rewrites byte 0xFF with its own value)")
	backupCreateCmd.Flags().StringVar(&backupNotes, "notes", "", "Free-form notes stored with the backup")
	backupImportCmd.Flags().StringVar(&backupNotes, "notes", "", "Free-form notes stored with the backup")
	backupExportCmd.Flags().BoolVarP(&backupExportXZ, "xz", "z", false, "Compress the exported image with xz")
	backupPruneCmd.Flags().Int("keep", 0, "Number of newest backups to keep (default from config)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "Show aggregate statistics instead of entries")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(spoofCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(diagnoseCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupShowCmd)
	backupCmd.AddCommand(backupDeleteCmd)
	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupImportCmd)
	backupCmd.AddCommand(backupPruneCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(historyCmd)
	if err := rootCmd.Execute(); err != nil {
		logError(err)
		closeLogging()
		os.Exit(1)
	}
}

func init() {
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
}

func parseNumber(s string) (uint32, error) {
	var err error
	var res uint64
	if strings.HasPrefix(strings.ToLower(s), "0x") {
		res, err = strconv.ParseUint(s[2:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", s)
		}
	} else {
		res, err = strconv.ParseUint(s, 10, 32)
		if err != nil {
			res, err = strconv.ParseUint(s, 16, 32)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q", s)
			}
		}
	}
	return uint32(res), nil
}

func parseID(s string) (uint16, error) {
	n, err := parseNumber(s)
	if err != nil {
		return 0, err
	}
	if n > 0xffff {
		return 0, fmt.Errorf("USB id %q does not fit in 16 bits", s)
	}
	return uint16(n), nil
}

// parseVIDPID parses "0b95:772a" style pairs. Both halves are hexadecimal
// unless prefixed otherwise, matching lsusb output.
func parseVIDPID(s string) (uint16, uint16, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected VID:PID, got %q", s)
	}
	var ids [2]uint16
	for i, p := range parts {
		if !strings.HasPrefix(strings.ToLower(p), "0x") {
			p = "0x" + p
		}
		id, err := parseID(p)
		if err != nil {
			return 0, 0, err
		}
		ids[i] = id
	}
	return ids[0], ids[1], nil
}
