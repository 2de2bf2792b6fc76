package dispatcher

import (
	"sort"

	"github.com/gobwas/glob"

	"github.com/agentbroker/broker/tool"
)

// Decision is the outcome of matching a policy rule against a tool call.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireApproval Decision = "require_approval"
	DecisionDeny            Decision = "deny"
)

// Rule matches a tool call by (workspaceId, actorId?, clientId?, toolPath)
// and assigns a decision. ActorID and ClientID are wildcards when empty.
// ToolPathPattern is a glob compiled with no path separator, so "*" spans
// whole dot-segmented tool paths (e.g. "stripe.*" matches
// "stripe.customers.create", not just a single segment).
// Priority breaks ties between rules that both match; higher wins.
type Rule struct {
	WorkspaceID     string
	ActorID         string
	ClientID        string
	ToolPathPattern string
	Priority        int
	Decision        Decision
}

type compiledRule struct {
	Rule
	pattern glob.Glob
}

// PolicySet evaluates tool calls against a priority-ranked set of Rules,
// falling back to a tool's own descriptor-level Approval when no rule
// matches.
type PolicySet struct {
	rules []compiledRule
}

// NewPolicySet compiles rules' tool-path glob patterns up front so
// Evaluate never returns a compile error mid-dispatch.
func NewPolicySet(rules []Rule) (*PolicySet, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		g, err := glob.Compile(r.ToolPathPattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{Rule: r, pattern: g})
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})
	return &PolicySet{rules: compiled}, nil
}

// Evaluate returns the decision for a call. A descriptor with
// tool.ApprovalRequired upgrades the default "allow" to require_approval
// when no rule matches at all; an explicit rule decision (including an
// explicit "allow") always takes precedence over the descriptor default.
func (p *PolicySet) Evaluate(workspaceID, actorID, clientID, toolPath string, desc *tool.Descriptor) Decision {
	decision, matched := p.match(workspaceID, actorID, clientID, toolPath)
	if !matched {
		if desc != nil && desc.Approval == tool.ApprovalRequired {
			return DecisionRequireApproval
		}
		return DecisionAllow
	}
	return decision
}

func (p *PolicySet) match(workspaceID, actorID, clientID, toolPath string) (Decision, bool) {
	for _, r := range p.rules {
		if r.WorkspaceID != workspaceID {
			continue
		}
		if r.ActorID != "" && r.ActorID != actorID {
			continue
		}
		if r.ClientID != "" && r.ClientID != clientID {
			continue
		}
		if !r.pattern.Match(toolPath) {
			continue
		}
		return r.Decision, true
	}
	return "", false
}
