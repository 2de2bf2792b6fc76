// Package toolsource loads tool descriptors from the three supported
// external source kinds (MCP, OpenAPI, GraphQL) and sanitizes their
// paths into the flat dot-joined namespace the registry indexes.
package toolsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentbroker/broker/tool"
)

// Warning records a single source's load failure without aborting the
// other sources in the same batch: a failure in one source is isolated
// and reported as a warning, not a fatal error.
type Warning struct {
	Source string
	Err    error
}

func (w Warning) Error() string { return fmt.Sprintf("source %q: %v", w.Source, w.Err) }

// Result is the outcome of loading one workspace's configured sources.
type Result struct {
	Descriptors []*tool.Descriptor
	Warnings    []Warning
}

// Load fans out across cfgs concurrently, one goroutine per source, and
// isolates per-source failures into Warnings rather than failing the
// whole batch.
func Load(ctx context.Context, cfgs []tool.SourceConfig) (*Result, error) {
	perSource := make([][]*tool.Descriptor, len(cfgs))
	perWarning := make([]error, len(cfgs))

	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			descs, err := loadOne(gctx, cfg)
			if err != nil {
				perWarning[i] = err
				return nil
			}
			for _, d := range descs {
				if mode, ok := cfg.ApprovalOverrides[operationKey(d)]; ok {
					d.Approval = mode
				}
			}
			perSource[i] = descs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{}
	for i := range cfgs {
		if perWarning[i] != nil {
			result.Warnings = append(result.Warnings, Warning{Source: cfgs[i].Name, Err: perWarning[i]})
			continue
		}
		result.Descriptors = append(result.Descriptors, perSource[i]...)
	}
	return result, nil
}

func loadOne(ctx context.Context, cfg tool.SourceConfig) ([]*tool.Descriptor, error) {
	switch cfg.Type {
	case tool.SourceMCP:
		return loadMCP(ctx, cfg.Name, cfg.MCP)
	case tool.SourceOpenAPI:
		return loadOpenAPI(ctx, cfg.Name, cfg.OpenAPI)
	case tool.SourceGraphQL:
		return loadGraphQL(ctx, cfg.Name, cfg.GraphQL)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// operationKey identifies the tool within its source for approval
// override lookup: the OperationID when present (OpenAPI), otherwise
// the last path segment (GraphQL field name, MCP tool name).
func operationKey(d *tool.Descriptor) string {
	if d.OperationID != "" {
		return d.OperationID
	}
	if i := strings.LastIndexByte(d.Path, '.'); i >= 0 {
		return d.Path[i+1:]
	}
	return d.Path
}

// SpecHash fingerprints a source's raw configuration so the registry can
// detect when a reload is required.
func SpecHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// AuthFingerprint fingerprints the auth headers a source carries,
// without ever persisting the credential values themselves.
func AuthFingerprint(headers map[string]string) string {
	h := sha256.New()
	for k, v := range headers {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
