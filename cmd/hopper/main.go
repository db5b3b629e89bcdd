package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hopper",
		Short: "Send frames to a fleet of BLE LED panels",
		Long: `hopper delivers display frames to LED_BLE_ panels over Bluetooth Low Energy:

- Scan for nearby panels and register them in the panel file
- Manage the registry: enable, disable, rename, order, grid slots
- Send one frame to one panel, every enabled panel, or a 2x2 grid
- Serve an HTTP API over the same registry and radio

Panels are addressed strictly one at a time over a shared radio, with
connection reuse, per-attempt timeouts and retries.`,
		Version: formatVersion(version),
		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newPanelsCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newServeCmd())

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Panel file (default: panels.yaml)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("verbose", false, "Verbose output (same as --log-level debug)")
	flags.Bool("no-pool", false, "Always use fresh connections")
	flags.Int("retries", 0, "Connection attempts per panel (overrides config)")
	flags.Duration("timeout", 0, "Timeout of one connect+send attempt (overrides config)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.SetVersionTemplate(fmt.Sprintf("hopper {{.Version}} (commit %s, built %s)\n", commit, date))

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		// Print user-friendly error message
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
