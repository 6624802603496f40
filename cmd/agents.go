package cmd

import (
	"fmt"
	"os"

	"github.com/devc-org/devc/internal/config"
	"github.com/devc-org/devc/internal/plugin/codingagents"
	"github.com/devc-org/devc/internal/ui"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect and sync coding-agent credentials for the workspace",
}

var agentsDoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate host-side coding-agent config without touching any container",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := newUI()

		globalCfg, err := config.LoadGlobalConfig()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}

		agents := codingagents.New(globalCfg.Agents)
		results, err := agents.Validate()
		if err != nil {
			return fmt.Errorf("validating agent config: %w", err)
		}

		printAgentResults(u, results)
		return nil
	},
}

var agentsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync coding-agent config and credentials into the running workspace container",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := newUI()

		eng, _, store, err := newEngine()
		if err != nil {
			return err
		}
		eng.SetOutput(os.Stdout, os.Stderr)

		globalCfg, err := config.LoadGlobalConfig()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}

		ws, err := currentWorkspace(store, false)
		if err != nil {
			return err
		}

		agents := codingagents.New(globalCfg.Agents)
		results, err := eng.SyncAgents(cmd.Context(), ws, agents)
		printAgentResults(u, results)
		if err != nil {
			return err
		}
		return nil
	},
}

// printAgentResults renders a per-preset table plus the aggregate warning
// line mandated by SPEC_FULL.md §4.6's failure policy.
func printAgentResults(u *ui.UI, results []codingagents.AgentSyncResult) {
	if len(results) == 0 {
		u.Dim("no coding agents enabled")
		return
	}

	headers := []string{"AGENT", "VALIDATED", "COPIED", "INSTALLED"}
	var rows [][]string
	var warnings []string
	for _, r := range results {
		rows = append(rows, []string{
			string(r.Agent),
			boolCell(r.Validated),
			boolCell(r.Copied),
			boolCell(r.Installed),
		})
		warnings = append(warnings, r.Warnings...)
	}
	u.Table(headers, rows)

	for _, w := range warnings {
		u.Dim("  warning: " + w)
	}
	reportAgentWarnings(u, warnings)
}

func boolCell(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// reportAgentWarnings prints the §4.6 aggregate warning line after `up`,
// `rebuild`, or `agents sync` when the coding-agents plugin raised any.
// No-op when there are none.
func reportAgentWarnings(u *ui.UI, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	u.Dim(fmt.Sprintf("Agent injection completed with %d warning(s). Run 'devc agents doctor' for details.", len(warnings)))
}

func init() {
	agentsCmd.AddCommand(agentsDoctorCmd)
	agentsCmd.AddCommand(agentsSyncCmd)
	rootCmd.AddCommand(agentsCmd)
}
