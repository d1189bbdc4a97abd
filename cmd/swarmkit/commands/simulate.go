// Package commands provides CLI command implementations.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blackms/swarmkit/pkg/swarmkit"
)

// Simulate command flags
var (
	simulateFormat   string
	simulateEvents   bool
	simulateTicks    int
	simulateInterval time.Duration
)

// ConfigPath is the --config flag shared by every command.
var ConfigPath string

// SimulateCmd runs a scenario file.
var SimulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Run a scripted swarm scenario",
	Long: `Run a scripted swarm scenario and print what happened.

A scenario declares agents (capabilities, backups, veto rights), missions
and an ordered list of steps: assign, bid, award, complete, fail, share,
vote, act, mark, optimize and dissolve. After the steps run, declared
behaviors are checked and synergy is computed from the outcomes table.

With --ticks the swarm keeps running maintenance passes (rebalance, decay,
pattern detection, healing) after the steps, one per interval.`,
	Example: `  # Run a scenario
  swarmkit simulate scenario.yaml

  # Print the report as JSON
  swarmkit simulate scenario.yaml --format json

  # Also print every published event
  swarmkit simulate scenario.yaml --events

  # Run five maintenance passes half a second apart afterwards
  swarmkit simulate scenario.yaml --ticks 5 --interval 500ms`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenario, err := LoadScenario(args[0])
		if err != nil {
			return err
		}

		cfg, logger, err := swarmkit.LoadConfig(ConfigPath, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		bus := swarmkit.NewEventBus()
		defer bus.Close()
		if simulateEvents {
			bus.On(swarmkit.AllEvents, func(e swarmkit.Event) {
				printEvent(cmd.OutOrStdout(), e)
			})
		}

		kit := swarmkit.New(cfg, swarmkit.WithLogger(logger), swarmkit.WithEventBus(bus), swarmkit.WithGlobalMetrics())
		report, err := scenario.Run(cmd.Context(), kit)
		if err != nil {
			return err
		}

		if simulateTicks > 0 {
			interval, err := maintenanceInterval()
			if err != nil {
				return err
			}
			stats, err := kit.Maintain(cmd.Context(), interval, simulateTicks)
			if err != nil {
				return fmt.Errorf("maintenance: %w", err)
			}
			report.Maintenance = &stats
			report.Snapshot = kit.Snapshot()
		}

		if simulateFormat == "json" {
			output, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(output))
		} else {
			PrintReport(cmd.OutOrStdout(), report)
		}

		if failed := report.Failed(); failed > 0 {
			return fmt.Errorf("%d of %d steps failed", failed, len(report.Steps))
		}
		return nil
	},
}

func init() {
	SimulateCmd.Flags().StringVarP(&simulateFormat, "format", "f", "text", "Output format: text, json")
	SimulateCmd.Flags().BoolVar(&simulateEvents, "events", false, "Print events as they are published")
	SimulateCmd.Flags().IntVar(&simulateTicks, "ticks", 0, "Maintenance passes to run after the steps")
	SimulateCmd.Flags().DurationVar(&simulateInterval, "interval", 0, "Time between maintenance passes (default: optimize.interval)")
}

func maintenanceInterval() (time.Duration, error) {
	if simulateInterval > 0 {
		return simulateInterval, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return 0, err
	}
	return cfg.Optimize.Interval, nil
}

// PrintReport writes a human readable report.
func PrintReport(w io.Writer, report Report) {
	bold := color.New(color.Bold)
	ok := color.New(color.FgGreen).Sprint("✓")
	bad := color.New(color.FgRed).Sprint("✗")

	bold.Fprintf(w, "Scenario: %s\n\n", report.Scenario)

	names := make([]string, 0, len(report.Missions))
	for name := range report.Missions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  mission %-16s %s\n", name, color.CyanString(report.Missions[name]))
	}
	fmt.Fprintln(w)

	for _, s := range report.Steps {
		if s.Error != "" {
			fmt.Fprintf(w, "%s %3d %-9s %s: %s\n", bad, s.Index, s.Kind, s.Detail, color.RedString(s.Error))
			continue
		}
		fmt.Fprintf(w, "%s %3d %-9s %s\n", ok, s.Index, s.Kind, s.Detail)
	}

	if len(report.Synergies) > 0 {
		bold.Fprintln(w, "\nSynergies:")
		for _, s := range report.Synergies {
			fmt.Fprintf(w, "  %s+%s  %.2f vs %.2f (x%.2f)\n", s.Pair.A, s.Pair.B, s.Combined, s.Expected, s.Ratio)
		}
	}
	if len(report.Triggered) > 0 {
		bold.Fprintln(w, "\nBehaviors triggered:")
		for _, name := range report.Triggered {
			fmt.Fprintf(w, "  %s\n", color.MagentaString(name))
		}
	}

	if m := report.Maintenance; m != nil {
		bold.Fprintln(w, "\nMaintenance:")
		fmt.Fprintf(w, "  %d passes, %d failed, avg %.2fms\n", m.Total, m.Failed, m.AvgDurationMs)
	}

	if len(report.Knowledge) > 0 {
		bold.Fprintln(w, "\nCollective knowledge:")
		keys := make([]string, 0, len(report.Knowledge))
		for k := range report.Knowledge {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-24s %s\n", k, report.Knowledge[k])
		}
	}

	PrintSnapshot(w, report.Snapshot)
}

// PrintSnapshot writes the system summary.
func PrintSnapshot(w io.Writer, snap swarmkit.Snapshot) {
	color.New(color.Bold).Fprintln(w, "\nSnapshot:")
	fmt.Fprintf(w, "  Swarms:      %d total, %d active, %d members\n", snap.TotalSwarms, snap.ActiveSwarms, snap.TotalMembers)
	fmt.Fprintf(w, "  Auctions:    %d open\n", snap.ActiveAuctions)
	fmt.Fprintf(w, "  Votes:       %d open\n", snap.ActiveVotes)
	fmt.Fprintf(w, "  Pheromones:  %d\n", snap.TotalPheromones)
	fmt.Fprintf(w, "  Faults:      %d\n", snap.FaultEvents)
	fmt.Fprintf(w, "  Workload:    %.3f\n", snap.AvgWorkload)
	fmt.Fprintf(w, "  Health:      %s\n", healthString(snap.HealthScore))
}

func healthString(score float64) string {
	s := fmt.Sprintf("%.2f", score)
	switch {
	case score >= 0.8:
		return color.GreenString(s)
	case score >= 0.5:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func printEvent(w io.Writer, e swarmkit.Event) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	fmt.Fprintf(w, "  %s %s\n", color.HiBlackString(string(e.Type)), payload)
}
