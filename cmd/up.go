package cmd

import (
	"fmt"
	"os"

	"github.com/devc-org/devc/internal/config"
	"github.com/devc-org/devc/internal/engine"
	"github.com/devc-org/devc/internal/plugin"
	"github.com/devc-org/devc/internal/plugin/codingagents"
	"github.com/devc-org/devc/internal/plugin/shellhistory"
	"github.com/spf13/cobra"
)

var recreateFlag bool

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Create or start the workspace container",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := newUI()

		eng, _, store, err := newEngine()
		if err != nil {
			return err
		}
		eng.SetOutput(os.Stdout, os.Stderr)
		eng.SetVerbose(verboseFlag || debugFlag)
		eng.SetProgress(func(msg string) { u.Dim("  " + msg) })

		globalCfg, err := config.LoadGlobalConfig()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}

		mgr := plugin.NewManager(logger)
		mgr.Register(codingagents.New(globalCfg.Agents))
		mgr.Register(shellhistory.New())
		eng.SetPlugins(mgr)

		ws, err := currentWorkspace(store, true)
		if err != nil {
			return err
		}

		u.Dim(versionString())
		u.Header("Starting workspace")

		result, err := eng.Up(cmd.Context(), ws, engine.UpOptions{Recreate: recreateFlag})
		if err != nil {
			return err
		}

		u.Success("Workspace ready")
		u.Keyval("container", shortID(result.ContainerID))
		u.Keyval("workspace", result.WorkspaceFolder)
		if result.RemoteUser != "" {
			u.Keyval("user", result.RemoteUser)
		}
		if ports := formatPorts(result.Ports); ports != "" {
			u.Keyval("ports", ports)
		}
		reportAgentWarnings(u, result.Warnings)

		return nil
	},
}

func init() {
	upCmd.Flags().BoolVar(&recreateFlag, "recreate", false, "recreate container even if one already exists")
}
