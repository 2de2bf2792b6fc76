package toolregistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentbroker/broker/tool"
)

// SourceStore resolves a workspace's configured tool sources. The real
// backing store is the reactive document store (out of scope per the
// broker's spec: persistence is an external collaborator); this is the
// thin seam the registry calls against.
type SourceStore interface {
	SourcesFor(ctx context.Context, workspaceID string) ([]tool.SourceConfig, error)
}

// StaticSourceStore serves a fixed, process-wide workspace->sources
// mapping, loaded once at startup from configuration. It satisfies
// SourceStore for single-process deployments where tool sources are
// provisioned out of band rather than mutated at runtime.
type StaticSourceStore struct {
	mu      sync.RWMutex
	sources map[string][]tool.SourceConfig
}

// NewStaticSourceStore constructs a StaticSourceStore from an initial
// workspace->sources mapping. A nil map is treated as empty.
func NewStaticSourceStore(initial map[string][]tool.SourceConfig) *StaticSourceStore {
	if initial == nil {
		initial = map[string][]tool.SourceConfig{}
	}
	return &StaticSourceStore{sources: initial}
}

// SourcesFor implements SourceStore.
func (s *StaticSourceStore) SourcesFor(_ context.Context, workspaceID string) ([]tool.SourceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfgs, ok := s.sources[workspaceID]
	if !ok {
		return nil, fmt.Errorf("toolregistry: no tool sources configured for workspace %q", workspaceID)
	}
	out := make([]tool.SourceConfig, len(cfgs))
	copy(out, cfgs)
	return out, nil
}

// Set replaces the source list for one workspace, e.g. after an admin
// reconfigures a source. Safe for concurrent use with SourcesFor.
func (s *StaticSourceStore) Set(workspaceID string, cfgs []tool.SourceConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[workspaceID] = cfgs
}
