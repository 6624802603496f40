package engine

import (
	"context"
	"fmt"

	"github.com/devc-org/devc/internal/plugin"
	"github.com/devc-org/devc/internal/plugin/codingagents"
	"github.com/devc-org/devc/internal/workspace"
)

// SyncAgents re-stages agents' coding-agent config into ws's already-running
// container: validates each enabled preset's host files, copies what
// validates, and queues install steps, applying both directly against the
// container. It bypasses the generic plugin.Manager because only the
// coding-agents plugin exposes the per-preset result set `agents sync`/
// `agents doctor` report on.
//
// A preset simply failing host validation is reported as a warning on its
// AgentSyncResult, not an error: SyncAgents only returns AgentSyncFailedError
// for a hard failure applying a copy or install step to the container.
func (e *Engine) SyncAgents(ctx context.Context, ws *workspace.Workspace, agents *codingagents.Plugin) ([]codingagents.AgentSyncResult, error) {
	container, err := e.driver.FindContainer(ctx, ws.ID)
	if err != nil {
		return nil, fmt.Errorf("finding container: %w", err)
	}
	if container == nil || !container.State.IsRunning() {
		return nil, fmt.Errorf("workspace container is not running, run 'devc up' first")
	}

	remoteUser := e.detectContainerUser(ctx, ws.ID, container.ID)
	if remoteUser == "" {
		remoteUser = "root"
	}

	req := &plugin.PreContainerRunRequest{
		WorkspaceID:   ws.ID,
		WorkspaceDir:  e.store.WorkspaceDir(ws.ID),
		SourceDir:     ws.Source,
		Runtime:       e.runtime,
		RemoteUser:    remoteUser,
		ContainerName: "devc-" + ws.ID,
	}

	results, resp, err := agents.Sync(req)
	if err != nil {
		return results, &AgentSyncFailedError{Err: err}
	}

	if err := e.applyPluginCopies(ctx, ws.ID, container.ID, resp); err != nil {
		return results, &AgentSyncFailedError{Err: err}
	}
	if err := e.runPluginPostCreateScript(ctx, ws.ID, container.ID, remoteUser, resp); err != nil {
		return results, &AgentSyncFailedError{Err: err}
	}

	return results, nil
}
