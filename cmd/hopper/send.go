package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/hopper/internal/fleet"
	"github.com/srg/hopper/pkg/config"
)

type sendFlags struct {
	panels []string
	all    bool
	grid   map[string]string
	quick  bool
}

func newSendCmd() *cobra.Command {
	f := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send [payload-file]",
		Short: "Send a frame to panels",
		Long: `Send a pre-encoded frame to one or more panels.

Exactly one mode is required:
  --panel <ref>           the given panels (repeatable), in the order given
  --all                   every enabled panel, by send order
  --grid <pos>=<file>     one frame per grid slot (tl, tr, bl, br)

A payload file of "-" reads the frame from stdin. Panels are addressed one
after another; a failure on one panel never stops the rest.`,
		Example: `  hopper send frame.bin --panel Kitchen
  hopper send frame.bin --all
  hopper send --grid tl=a.bin --grid tr=b.bin --grid bl=c.bin --grid br=d.bin`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, f, args)
		},
	}

	cmd.Flags().StringArrayVarP(&f.panels, "panel", "p", nil, "Panel address or name (repeatable)")
	cmd.Flags().BoolVarP(&f.all, "all", "a", false, "Send to every enabled panel")
	cmd.Flags().StringToStringVarP(&f.grid, "grid", "g", nil, "Grid slot frame, <pos>=<file>")
	cmd.Flags().BoolVar(&f.quick, "quick", false, "Single short attempt per panel (identify)")
	return cmd
}

func runSend(cmd *cobra.Command, f *sendFlags, args []string) error {
	modes := 0
	for _, on := range []bool{len(f.panels) > 0, f.all, len(f.grid) > 0} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		return fmt.Errorf("choose exactly one of --panel, --all or --grid")
	}
	gridMode := len(f.grid) > 0
	if gridMode && len(args) > 0 {
		return fmt.Errorf("grid mode takes its frames from --grid, not a payload file")
	}
	if !gridMode && len(args) == 0 {
		return fmt.Errorf("payload file is required")
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var targets []fleet.Target
	if gridMode {
		targets, err = gridTargets(cfg, f.grid)
	} else {
		var payload []byte
		payload, err = readPayloadFile(cmd.InOrStdin(), args[0])
		if err == nil {
			targets, err = panelTargets(cfg, f, payload)
		}
	}
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	names := func(address string) string {
		if p, ok := cfg.PanelByAddress(address); ok {
			return p.Name
		}
		return address
	}
	rt, err := newRuntime(cfg, newSendProgress(out, names), logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	coord := rt.coord
	if f.quick {
		if coord, err = rt.coord.WithPolicy(rt.coord.Policy().Quick()); err != nil {
			return err
		}
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	outcomes := coord.SendToMany(ctx, targets)
	// Flush progress before printing results.
	rt.coord.Close()

	return printOutcomes(out, targets, outcomes)
}

// panelTargets resolves --panel refs or --all into targets sharing payload.
func panelTargets(cfg *config.Config, f *sendFlags, payload []byte) ([]fleet.Target, error) {
	var panels []config.Panel
	if f.all {
		panels = cfg.EnabledPanels()
		if len(panels) == 0 {
			return nil, fmt.Errorf("no enabled panels in %s", cfg.Path())
		}
	} else {
		for _, ref := range f.panels {
			p, err := cfg.Lookup(ref)
			if err != nil {
				return nil, err
			}
			panels = append(panels, p)
		}
	}

	targets := make([]fleet.Target, len(panels))
	for i, p := range panels {
		targets[i] = fleet.Target{Address: p.MAC, Name: p.Name, Payload: payload}
	}
	return targets, nil
}

// gridTargets builds one target per given slot, in grid send order.
func gridTargets(cfg *config.Config, files map[string]string) ([]fleet.Target, error) {
	byPosition := make(map[string]string, len(files))
	for raw, file := range files {
		pos, err := parseGridPosition(raw)
		if err != nil {
			return nil, err
		}
		byPosition[pos] = file
	}

	grid := cfg.GridPanels()
	var missing []string
	for pos := range byPosition {
		if _, ok := grid[pos]; !ok {
			missing = append(missing, pos)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("no panel assigned to %v (see 'hopper panels grid')", missing)
	}

	var targets []fleet.Target
	for _, pos := range config.GridSendOrder {
		file, ok := byPosition[pos]
		if !ok {
			continue
		}
		payload, err := readPayloadFile(nil, file)
		if err != nil {
			return nil, err
		}
		p := grid[pos]
		targets = append(targets, fleet.Target{Address: p.MAC, Name: p.Name, Payload: payload})
	}
	return targets, nil
}

// readPayloadFile reads a frame from path, or from stdin when path is "-".
func readPayloadFile(stdin io.Reader, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" && stdin != nil {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("payload %s is empty", path)
	}
	return data, nil
}

func printOutcomes(out io.Writer, targets []fleet.Target, outcomes []fleet.SendOutcome) error {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	ok := 0
	for i, o := range outcomes {
		name := targets[i].Name
		if o.Success {
			ok++
			green.Fprint(out, "✓")
		} else {
			red.Fprint(out, "✗")
		}
		fmt.Fprintf(out, " %s (%s): %s\n", name, o.Address, o.Message)
	}
	fmt.Fprintf(out, "Result: %d/%d panels updated\n", ok, len(outcomes))

	if ok < len(outcomes) {
		return fmt.Errorf("%w: %d of %d panels not updated", ErrSendFailed, len(outcomes)-ok, len(outcomes))
	}
	return nil
}
