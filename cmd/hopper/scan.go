package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/hopper/internal/device"
	"github.com/srg/hopper/internal/groutine"
	"github.com/srg/hopper/pkg/config"
	"github.com/srg/hopper/scanner"
)

type scanFlags struct {
	duration time.Duration
	prefix   string
	format   string
	save     bool
	watch    bool
	allow    []string
	block    []string
}

func newScanCmd() *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for LED panels",
		Long: `Scan for LED panels advertising nearby and list them.

Only devices whose advertised name starts with the panel prefix are shown.
With --save, panels not yet in the panel file are added to it. With --watch
the table is redrawn as panels are heard until Ctrl+C (or --duration).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, f)
		},
	}

	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Scan duration (default: scan_timeout from config)")
	cmd.Flags().StringVar(&f.prefix, "prefix", device.PanelNamePrefix, "Advertised name prefix of panels")
	cmd.Flags().StringVarP(&f.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().BoolVar(&f.save, "save", false, "Add newly found panels to the panel file")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "Keep scanning and redraw the table as panels are heard")
	cmd.Flags().StringSliceVar(&f.allow, "allow", nil, "Only show panels with these addresses")
	cmd.Flags().StringSliceVar(&f.block, "block", nil, "Hide panels with these addresses")
	return cmd
}

func runScan(cmd *cobra.Command, f *scanFlags) error {
	if f.format != "table" && f.format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", f.format)
	}
	if f.watch && f.format != "table" {
		return fmt.Errorf("--watch supports only the table format")
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	source, err := newAdvertisementSource()
	if err != nil {
		return fmt.Errorf("failed to open Bluetooth adapter: %w", err)
	}
	defer releaseRadio()

	s, err := scanner.NewScanner(source, logger)
	if err != nil {
		return fmt.Errorf("failed to create panel scanner: %w", err)
	}

	opts := scanner.DefaultScanOptions()
	opts.Duration = cfg.Settings().ScanTimeout
	if f.duration > 0 {
		opts.Duration = f.duration
	}
	opts.NamePrefix = f.prefix
	opts.AllowList = f.allow
	opts.BlockList = f.block

	// Watch mode scans until interrupted unless a duration is given.
	if f.watch {
		opts.Duration = f.duration
	}

	ctx, stop := commandContext(cmd)
	defer stop()

	out := cmd.OutOrStdout()
	if f.watch {
		panels, err := runWatch(ctx, out, cfg, s, opts)
		if err != nil {
			return err
		}
		if f.save {
			return savePanels(out, cfg, panels)
		}
		return nil
	}

	callback := func(string) {}
	if isTerminal(out) {
		progress := NewCountdownProgressPrinter(out, "Scanning for LED panels", scanner.PhaseScanning, opts.Duration, scanner.PhaseProcessing)
		progress.Start()
		defer progress.Stop()
		callback = progress.Callback()
	}

	panels, err := s.Scan(ctx, opts, callback)
	if err != nil {
		return err
	}

	if f.format == "json" {
		if err := displayPanelsJSON(out, panels); err != nil {
			return err
		}
	} else if err := displayPanelsTable(out, cfg, panels); err != nil {
		return err
	}

	if f.save {
		return savePanels(out, cfg, panels)
	}
	return nil
}

// watchRefresh is how often watch mode redraws the table.
var watchRefresh = time.Second

// runWatch scans in the background and redraws the panel table from the
// scanner's event stream whenever something new was heard.
func runWatch(ctx context.Context, out io.Writer, cfg *config.Config, s *scanner.Scanner, opts *scanner.ScanOptions) ([]scanner.DiscoveredPanel, error) {
	type scanResult struct {
		panels []scanner.DiscoveredPanel
		err    error
	}
	results := make(chan scanResult, 1)
	groutine.Go(ctx, "panel-scan-watch", func(ctx context.Context) {
		panels, err := s.Scan(ctx, opts, nil)
		results <- scanResult{panels: panels, err: err}
	})

	seen := make(map[string]scanner.DiscoveredPanel)
	dirty := false
	redraw := func(panels []scanner.DiscoveredPanel) error {
		if isTerminal(out) {
			fmt.Fprint(out, "\033[2J\033[H")
		}
		return displayPanelsTable(out, cfg, panels)
	}

	ticker := time.NewTicker(watchRefresh)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.Events():
			seen[ev.Panel.Address] = ev.Panel
			dirty = true

		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			if err := redraw(sortedPanels(seen)); err != nil {
				return nil, err
			}

		case res := <-results:
			if res.err != nil {
				return nil, res.err
			}
			return res.panels, redraw(res.panels)
		}
	}
}

func sortedPanels(seen map[string]scanner.DiscoveredPanel) []scanner.DiscoveredPanel {
	panels := make([]scanner.DiscoveredPanel, 0, len(seen))
	for _, p := range seen {
		panels = append(panels, p)
	}
	sort.Slice(panels, func(i, j int) bool {
		if panels[i].Name != panels[j].Name {
			return panels[i].Name < panels[j].Name
		}
		return panels[i].Address < panels[j].Address
	})
	return panels
}

func savePanels(out io.Writer, cfg *config.Config, panels []scanner.DiscoveredPanel) error {
	added := 0
	for _, p := range panels {
		if _, known := cfg.PanelByAddress(p.Address); known {
			continue
		}
		cfg.AddPanel(p.Address, p.Name)
		added++
	}
	if added == 0 {
		fmt.Fprintln(out, "No new panels to save")
		return nil
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Added %d new panel(s) to %s\n", added, cfg.Path())
	return nil
}

func displayPanelsTable(out io.Writer, cfg *config.Config, panels []scanner.DiscoveredPanel) error {
	if len(panels) == 0 {
		fmt.Fprintln(out, "No panels discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tREGISTERED AS")
	fmt.Fprintln(w, strings.Repeat("-", 64))

	for _, p := range panels {
		registered := "-"
		if known, ok := cfg.PanelByAddress(p.Address); ok {
			registered = known.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", p.Name, p.Address, p.RSSI, registered)
	}
	return w.Flush()
}

func displayPanelsJSON(out io.Writer, panels []scanner.DiscoveredPanel) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(panels)
}

// commandContext returns ctx cancelled on Ctrl+C.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
