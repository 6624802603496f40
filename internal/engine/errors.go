package engine

import "fmt"

// BuildFailedError marks an image build failure so cmd/root.go can map it to
// the documented exit code (3) without string-matching the error text.
type BuildFailedError struct {
	Err error
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("building image: %v", e.Err)
}

func (e *BuildFailedError) Unwrap() error { return e.Err }

// HookFailedError marks a lifecycle hook failure so cmd/root.go can map it to
// the documented exit code (4) without string-matching the error text.
type HookFailedError struct {
	Hook string
	Err  error
}

func (e *HookFailedError) Error() string {
	return fmt.Sprintf("lifecycle hook %q failed: %v", e.Hook, e.Err)
}

func (e *HookFailedError) Unwrap() error { return e.Err }

// AgentSyncFailedError marks a hard failure applying coding-agent sync
// results to a container (as opposed to a per-agent validation warning, which
// is not an error) so cmd/root.go can map it to the documented exit code (7).
type AgentSyncFailedError struct {
	Err error
}

func (e *AgentSyncFailedError) Error() string {
	return fmt.Sprintf("syncing agent config: %v", e.Err)
}

func (e *AgentSyncFailedError) Unwrap() error { return e.Err }
