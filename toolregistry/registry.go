// Package toolregistry exposes a workspace-scoped, cache-friendly view
// onto tools loaded by toolsource.
package toolregistry

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentbroker/broker/tool"
	"github.com/agentbroker/broker/toolsource"
)

// binding keys a workspace's currently-loaded tool list to the
// (spec-hash, auth-fingerprint) pair that produced it. Tool paths are
// stable for the lifetime of this binding; changing either component
// invalidates the entry.
type binding struct {
	specHash        string
	authFingerprint string
}

type entry struct {
	binding  binding
	tools    []*tool.Descriptor
	warnings []toolsource.Warning
}

// TypecheckView is the declaration-bundle-ready projection of a
// workspace's tools: the descriptors plus any external DTS URLs to
// merge in.
type TypecheckView struct {
	Tools   []*tool.Descriptor
	DTSUrls map[string]string
}

// Registry caches one entry per workspace, invalidating on spec-hash or
// auth-fingerprint change.
type Registry struct {
	cache *lru.Cache[string, entry]
	dts   *dtsCache
}

// New constructs a Registry with an LRU cache of at most capacity
// workspace entries.
func New(capacity int) (*Registry, error) {
	if capacity <= 0 {
		capacity = 256
	}
	cache, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: new cache: %w", err)
	}
	return &Registry{cache: cache, dts: newDTSCache()}, nil
}

// ListTools returns the workspace's current tool list, reusing the
// cached binding when the underlying sources haven't changed, plus any
// per-source warnings collected on the last (re)load.
func (r *Registry) ListTools(ctx context.Context, workspaceID string, cfgs []tool.SourceConfig) ([]*tool.Descriptor, []toolsource.Warning, error) {
	e, err := r.refresh(ctx, workspaceID, cfgs)
	if err != nil {
		return nil, nil, err
	}
	return e.tools, e.warnings, nil
}

// ListToolsForTypecheck returns the workspace's tools together with
// dtsURLs, passed through unchanged. It fetches nothing; FetchDTS is the
// registry's fetching entry point.
func (r *Registry) ListToolsForTypecheck(ctx context.Context, workspaceID string, cfgs []tool.SourceConfig, dtsURLs map[string]string) (*TypecheckView, error) {
	e, err := r.refresh(ctx, workspaceID, cfgs)
	if err != nil {
		return nil, err
	}
	return &TypecheckView{Tools: e.tools, DTSUrls: dtsURLs}, nil
}

// FetchDTS fetches and caches the declaration bundle at url, guaranteeing
// one in-flight fetch per URL.
func (r *Registry) FetchDTS(ctx context.Context, url string) (string, error) {
	return r.dts.fetch(ctx, url)
}

func (r *Registry) refresh(ctx context.Context, workspaceID string, cfgs []tool.SourceConfig) (entry, error) {
	specHash, authFP := bindingFingerprints(cfgs)
	want := binding{specHash: specHash, authFingerprint: authFP}

	if cached, ok := r.cache.Get(workspaceID); ok && cached.binding == want {
		return cached, nil
	}

	res, err := toolsource.Load(ctx, cfgs)
	if err != nil {
		return entry{}, fmt.Errorf("toolregistry: load workspace %q: %w", workspaceID, err)
	}

	e := entry{binding: want, tools: res.Descriptors, warnings: res.Warnings}
	r.cache.Add(workspaceID, e)
	return e, nil
}

func bindingFingerprints(cfgs []tool.SourceConfig) (specHash, authFingerprint string) {
	var specParts, authParts string
	for _, c := range cfgs {
		specParts += c.Name + "|"
		switch {
		case c.MCP != nil:
			specParts += c.MCP.URL + "|"
		case c.OpenAPI != nil:
			specParts += c.OpenAPI.SpecURL + "|" + string(c.OpenAPI.SpecBody) + "|"
		case c.GraphQL != nil:
			specParts += c.GraphQL.Endpoint + "|"
		}
		headers := headersFor(c)
		keys := make([]string, 0, len(headers))
		for k := range headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			authParts += k + "=" + headers[k] + ";"
		}
	}
	return toolsource.SpecHash([]byte(specParts)), toolsource.AuthFingerprint(map[string]string{"_": authParts})
}

func headersFor(c tool.SourceConfig) map[string]string {
	switch c.Type {
	case tool.SourceMCP:
		if c.MCP != nil {
			return c.MCP.Headers
		}
	case tool.SourceOpenAPI:
		if c.OpenAPI != nil {
			return c.OpenAPI.AuthHeaders
		}
	case tool.SourceGraphQL:
		if c.GraphQL != nil {
			return c.GraphQL.Headers
		}
	}
	return nil
}
