package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// DefinitionProblem classifies a structural defect found in a flow graph.
type DefinitionProblem string

const (
	ProblemMissingID        DefinitionProblem = "missing_id"
	ProblemDuplicateNode    DefinitionProblem = "duplicate_node"
	ProblemStartNode        DefinitionProblem = "start_node"
	ProblemDanglingEdge     DefinitionProblem = "dangling_edge"
	ProblemTooManyEdges     DefinitionProblem = "too_many_edges"
	ProblemUnknownKind      DefinitionProblem = "unknown_kind"
	ProblemInvalidConfig    DefinitionProblem = "invalid_config"
	ProblemUnmatchedBranch  DefinitionProblem = "unmatched_branch"
	ProblemMultipleDefaults DefinitionProblem = "multiple_defaults"
)

// DefinitionError describes one structural problem of a flow definition.
type DefinitionError struct {
	Problem DefinitionProblem
	FlowID  string
	NodeID  string
	Message string
}

func (e *DefinitionError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("flow %s, node %s: %s", e.FlowID, e.NodeID, e.Message)
	}
	return fmt.Sprintf("flow %s: %s", e.FlowID, e.Message)
}

// Validate checks the structural invariants of the graph: unique node ids,
// exactly one start node, edges between existing nodes, a single successor
// for non-branching nodes and, for condition nodes, one labeled edge per
// declared branch plus at most one unlabeled default.
//
// Unknown node kinds are reported but do not stop the interpreter, which
// passes through them at run time.
func (f *Flow) Validate() error {
	var errs []error
	report := func(p DefinitionProblem, node, format string, args ...any) {
		errs = append(errs, &DefinitionError{Problem: p, FlowID: f.ID, NodeID: node, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(f.ID) == "" {
		report(ProblemMissingID, "", "flow id is empty")
	}

	seen := make(map[string]struct{}, len(f.Nodes))
	starts := 0
	for _, n := range f.Nodes {
		if n.ID == "" {
			report(ProblemMissingID, "", "node of type %q has no id", n.Kind)
			continue
		}
		if _, dup := seen[n.ID]; dup {
			report(ProblemDuplicateNode, n.ID, "node id declared more than once")
		}
		seen[n.ID] = struct{}{}
		if n.Kind == NodeStart {
			starts++
		}
		if !n.Kind.Known() {
			report(ProblemUnknownKind, n.ID, "unknown node type %q", n.Kind)
		}
	}
	if starts != 1 {
		report(ProblemStartNode, "", "expected exactly one start node, found %d", starts)
	}

	for _, e := range f.Edges {
		if _, ok := seen[e.Source]; !ok {
			report(ProblemDanglingEdge, e.Source, "edge %s leaves an unknown node", e.ID)
		}
		if _, ok := seen[e.Target]; !ok {
			report(ProblemDanglingEdge, e.Source, "edge %s points at unknown node %s", e.ID, e.Target)
		}
	}

	for i := range f.Nodes {
		n := &f.Nodes[i]
		out := f.Outgoing(n.ID)
		if n.Kind != NodeCondition {
			if len(out) > 1 {
				report(ProblemTooManyEdges, n.ID, "%s node has %d outgoing edges, expected at most one", n.Kind, len(out))
			}
			if err := validateNodeConfig(n); err != nil {
				report(ProblemInvalidConfig, n.ID, "%v", err)
			}
			continue
		}

		var cfg ConditionConfig
		if err := n.DecodeConfig(&cfg); err != nil {
			report(ProblemInvalidConfig, n.ID, "%v", err)
			continue
		}
		labels := make(map[string]struct{}, len(cfg.Rules))
		for _, r := range cfg.Rules {
			labels[strings.ToLower(r.Label)] = struct{}{}
		}
		defaults := 0
		for _, e := range out {
			if e.Label == "" {
				defaults++
				continue
			}
			if _, ok := labels[strings.ToLower(e.Label)]; !ok {
				report(ProblemUnmatchedBranch, n.ID, "edge %s label %q matches no rule", e.ID, e.Label)
			}
		}
		for _, r := range cfg.Rules {
			if _, ok := f.Branch(n.ID, r.Label); !ok {
				report(ProblemUnmatchedBranch, n.ID, "rule %q has no outgoing edge", r.Label)
			}
		}
		if defaults > 1 {
			report(ProblemMultipleDefaults, n.ID, "condition node has %d unlabeled edges", defaults)
		}
	}

	return errors.Join(errs...)
}

func validateNodeConfig(n *Node) error {
	switch n.Kind {
	case NodeInput:
		var cfg InputConfig
		if err := n.DecodeConfig(&cfg); err != nil {
			return err
		}
		if cfg.Variable == "" {
			return fmt.Errorf("input node needs a variable name")
		}
	case NodeWebhook:
		var cfg WebhookConfig
		if err := n.DecodeConfig(&cfg); err != nil {
			return err
		}
		if cfg.URL == "" {
			return fmt.Errorf("webhook node needs a url")
		}
	case NodeImage, NodeFile:
		var cfg MediaConfig
		if err := n.DecodeConfig(&cfg); err != nil {
			return err
		}
		if cfg.MediaID == "" {
			return fmt.Errorf("%s node needs a media_id", n.Kind)
		}
	case NodeDelay:
		var cfg DelayConfig
		return n.DecodeConfig(&cfg)
	}
	return nil
}
