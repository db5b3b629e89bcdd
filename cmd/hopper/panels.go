package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/hopper/pkg/config"
)

func newPanelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panels",
		Short: "List and edit registered panels",
		Long: `List the panels in the panel file, or edit them.

Panels are referenced by address or by name (case-insensitive).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return displayRegistry(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.AddCommand(
		newPanelEditCmd("enable <panel>...", "Enable panels", cobra.MinimumNArgs(1), func(cfg *config.Config, args []string) (string, error) {
			return setEnabled(cfg, args, true)
		}),
		newPanelEditCmd("disable <panel>...", "Disable panels", cobra.MinimumNArgs(1), func(cfg *config.Config, args []string) (string, error) {
			return setEnabled(cfg, args, false)
		}),
		newPanelEditCmd("add <address> [name]", "Register a panel by address", cobra.RangeArgs(1, 2), func(cfg *config.Config, args []string) (string, error) {
			if strings.TrimSpace(args[0]) == "" {
				return "", fmt.Errorf("address must not be empty")
			}
			name := ""
			if len(args) > 1 {
				name = args[1]
			}
			p := cfg.AddPanel(args[0], name)
			return fmt.Sprintf("Registered %s (%s)", p.Name, p.MAC), nil
		}),
		newPanelEditCmd("rename <panel> <name>", "Rename a panel", cobra.ExactArgs(2), func(cfg *config.Config, args []string) (string, error) {
			p, err := cfg.Rename(args[0], args[1])
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Renamed %s to %s", p.MAC, p.Name), nil
		}),
		newPanelEditCmd("order <panel> <n>", "Set the send order of a panel", cobra.ExactArgs(2), func(cfg *config.Config, args []string) (string, error) {
			order, err := strconv.Atoi(args[1])
			if err != nil {
				return "", fmt.Errorf("invalid order %q: %w", args[1], err)
			}
			p, err := cfg.SetOrder(args[0], order)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s will be sent in order %d", p.Name, p.Order), nil
		}),
		newPanelEditCmd("grid <position> [panel]", "Assign a panel to a grid slot, or clear it", cobra.RangeArgs(1, 2), func(cfg *config.Config, args []string) (string, error) {
			position, err := parseGridPosition(args[0])
			if err != nil {
				return "", err
			}
			ref := ""
			if len(args) > 1 {
				ref = args[1]
			}
			if err := cfg.SetGrid(position, ref); err != nil {
				return "", err
			}
			if ref == "" {
				return fmt.Sprintf("Cleared %s", position), nil
			}
			return fmt.Sprintf("Assigned %s to %s", ref, position), nil
		}),
		newPanelEditCmd("remove <panel>", "Remove a panel from the registry", cobra.ExactArgs(1), func(cfg *config.Config, args []string) (string, error) {
			p, err := cfg.Lookup(args[0])
			if err != nil {
				return "", err
			}
			cfg.RemovePanel(p.MAC)
			return fmt.Sprintf("Removed %s (%s)", p.Name, p.MAC), nil
		}),
	)
	return cmd
}

// newPanelEditCmd builds a subcommand that edits the registry and saves it.
func newPanelEditCmd(use, short string, args cobra.PositionalArgs, edit func(cfg *config.Config, args []string) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			msg, err := edit(cfg, args)
			if err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func setEnabled(cfg *config.Config, refs []string, enabled bool) (string, error) {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		p, err := cfg.SetEnabled(ref, enabled)
		if err != nil {
			return "", err
		}
		names = append(names, p.Name)
	}
	verb := "Disabled"
	if enabled {
		verb = "Enabled"
	}
	return fmt.Sprintf("%s %s", verb, strings.Join(names, ", ")), nil
}

func displayRegistry(out io.Writer, cfg *config.Config) error {
	panels := cfg.Panels()
	if len(panels) == 0 {
		fmt.Fprintf(out, "No panels registered in %s (try 'hopper scan --save')\n", cfg.Path())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tENABLED\tORDER\tGRID\tNOTES")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, p := range panels {
		enabled := "no"
		if p.Enabled {
			enabled = "yes"
		}
		grid := p.GridPosition
		if grid == "" {
			grid = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", p.Name, p.MAC, enabled, p.Order, grid, p.Notes)
	}
	return w.Flush()
}

var gridAliases = map[string]string{
	"tl": config.TopLeft,
	"tr": config.TopRight,
	"bl": config.BottomLeft,
	"br": config.BottomRight,
}

// parseGridPosition accepts a full position name or its two-letter alias.
func parseGridPosition(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if full, ok := gridAliases[s]; ok {
		return full, nil
	}
	for _, pos := range config.GridPositions {
		if s == pos {
			return pos, nil
		}
	}
	return "", fmt.Errorf("unknown grid position %q (want tl, tr, bl, br or %s)", s, strings.Join(config.GridPositions, ", "))
}
