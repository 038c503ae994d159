package runtime

import (
	"strings"
)

// NodeKind is the closed set of node types a flow graph may contain.
type NodeKind string

const (
	NodeStart     NodeKind = "start"
	NodeMessage   NodeKind = "message"
	NodeImage     NodeKind = "image"
	NodeFile      NodeKind = "file"
	NodeInput     NodeKind = "input"
	NodeCondition NodeKind = "condition"
	NodeDelay     NodeKind = "delay"
	NodeWebhook   NodeKind = "webhook"
	NodeTransfer  NodeKind = "transfer"
	NodeTicket    NodeKind = "ticket"
	NodeEnd       NodeKind = "end"
)

var knownKinds = map[NodeKind]struct{}{
	NodeStart: {}, NodeMessage: {}, NodeImage: {}, NodeFile: {}, NodeInput: {},
	NodeCondition: {}, NodeDelay: {}, NodeWebhook: {}, NodeTransfer: {},
	NodeTicket: {}, NodeEnd: {},
}

// Known reports whether k is one of the node kinds the interpreter dispatches on.
func (k NodeKind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Terminal reports whether reaching a node of this kind ends the instance.
func (k NodeKind) Terminal() bool {
	return k == NodeEnd || k == NodeTicket
}

// Flow is one authored chatbot script. It is loaded as data and never
// mutated by the interpreter, so a single *Flow is shared by every instance.
type Flow struct {
	ID       string   `yaml:"id" json:"id"`
	TenantID string   `yaml:"tenant" json:"tenant_id"`
	Name     string   `yaml:"name" json:"name"`
	Version  int      `yaml:"version" json:"version"`
	Disabled bool     `yaml:"disabled" json:"disabled"`
	Triggers []string `yaml:"triggers" json:"triggers"`
	Nodes    []Node   `yaml:"nodes" json:"nodes"`
	Edges    []Edge   `yaml:"edges" json:"edges"`
}

type Node struct {
	ID     string         `yaml:"id" json:"id"`
	Kind   NodeKind       `yaml:"type" json:"type"`
	Config map[string]any `yaml:"config" json:"config"`
}

type Edge struct {
	ID     string `yaml:"id" json:"id"`
	Source string `yaml:"source" json:"source"`
	Target string `yaml:"target" json:"target"`
	Label  string `yaml:"label,omitempty" json:"label,omitempty"`
}

func (f *Flow) Enabled() bool {
	return !f.Disabled
}

func (f *Flow) Node(id string) (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// StartNode returns the first node of kind start.
func (f *Flow) StartNode() (*Node, bool) {
	for i := range f.Nodes {
		if f.Nodes[i].Kind == NodeStart {
			return &f.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing returns the edges leaving nodeID in declaration order.
func (f *Flow) Outgoing(nodeID string) []Edge {
	var out []Edge
	for _, e := range f.Edges {
		if e.Source == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Successor returns the single successor of a non-branching node. An
// unlabeled edge wins over a labeled one.
func (f *Flow) Successor(nodeID string) (string, bool) {
	out := f.Outgoing(nodeID)
	if len(out) == 0 {
		return "", false
	}
	for _, e := range out {
		if e.Label == "" {
			return e.Target, true
		}
	}
	return out[0].Target, true
}

// Branch returns the target of the edge leaving nodeID with the given label.
func (f *Flow) Branch(nodeID, label string) (string, bool) {
	if label == "" {
		return "", false
	}
	for _, e := range f.Outgoing(nodeID) {
		if strings.EqualFold(e.Label, label) {
			return e.Target, true
		}
	}
	return "", false
}

// DefaultBranch returns the target of the unlabeled edge leaving nodeID.
func (f *Flow) DefaultBranch(nodeID string) (string, bool) {
	for _, e := range f.Outgoing(nodeID) {
		if e.Label == "" {
			return e.Target, true
		}
	}
	return "", false
}

// MatchesTrigger reports whether any whitespace-separated token of text
// equals one of the flow's trigger keywords, ignoring case.
func (f *Flow) MatchesTrigger(text string) bool {
	if len(f.Triggers) == 0 {
		return false
	}
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tokens[tok] = struct{}{}
	}
	for _, trigger := range f.Triggers {
		if _, ok := tokens[strings.ToLower(strings.TrimSpace(trigger))]; ok {
			return true
		}
	}
	return false
}
