package runtime

import (
	"errors"
	"testing"
)

func validFlow() *Flow {
	return &Flow{
		ID: "support",
		Nodes: []Node{
			{ID: "start", Kind: NodeStart},
			{ID: "menu", Kind: NodeCondition, Config: map[string]any{
				"prompt": "1 sales, 2 support",
				"rules": []any{
					map[string]any{"field": "message", "operator": "equals", "value": "1", "label": "sales"},
					map[string]any{"field": "message", "operator": "equals", "value": "2", "label": "support"},
				},
			}},
			{ID: "ask", Kind: NodeInput, Config: map[string]any{"variable": "email", "format": "email"}},
			{ID: "agent", Kind: NodeTransfer},
			{ID: "bye", Kind: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", Source: "start", Target: "menu"},
			{ID: "e2", Source: "menu", Target: "ask", Label: "Sales"},
			{ID: "e3", Source: "menu", Target: "agent", Label: "support"},
			{ID: "e4", Source: "menu", Target: "bye"},
			{ID: "e5", Source: "ask", Target: "bye"},
		},
	}
}

func problems(err error) map[DefinitionProblem]int {
	out := map[DefinitionProblem]int{}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return out
	}
	for _, e := range joined.Unwrap() {
		var de *DefinitionError
		if errors.As(e, &de) {
			out[de.Problem]++
		}
	}
	return out
}

func TestValidate_ValidFlow(t *testing.T) {
	if err := validFlow().Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Flow)
		want   DefinitionProblem
	}{
		{"no start", func(f *Flow) { f.Nodes[0].Kind = NodeMessage }, ProblemStartNode},
		{"two starts", func(f *Flow) { f.Nodes[4].Kind = NodeStart }, ProblemStartNode},
		{"duplicate id", func(f *Flow) { f.Nodes[4].ID = "ask" }, ProblemDuplicateNode},
		{"missing node id", func(f *Flow) { f.Nodes[3].ID = "" }, ProblemMissingID},
		{"dangling edge", func(f *Flow) { f.Edges[4].Target = "nowhere" }, ProblemDanglingEdge},
		{"fan out", func(f *Flow) { f.Edges = append(f.Edges, Edge{ID: "e6", Source: "ask", Target: "agent"}) }, ProblemTooManyEdges},
		{"unknown kind", func(f *Flow) { f.Nodes[3].Kind = "carousel" }, ProblemUnknownKind},
		{"input without variable", func(f *Flow) { f.Nodes[2].Config = map[string]any{"format": "email"} }, ProblemInvalidConfig},
		{"unlabeled rule", func(f *Flow) { f.Edges[2].Label = "billing" }, ProblemUnmatchedBranch},
		{"two defaults", func(f *Flow) { f.Edges[2].Label = "" }, ProblemMultipleDefaults},
		{"bad delay", func(f *Flow) {
			f.Nodes = append(f.Nodes, Node{ID: "wait", Kind: NodeDelay, Config: map[string]any{"duration": "soon"}})
		}, ProblemInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFlow()
			tt.mutate(f)
			err := f.Validate()
			if err == nil {
				t.Fatal("expected a definition error")
			}
			if problems(err)[tt.want] == 0 {
				t.Errorf("expected problem %s, got %v", tt.want, err)
			}
		})
	}
}

func TestFlowNavigation(t *testing.T) {
	f := validFlow()

	if next, ok := f.Branch("menu", "SALES"); !ok || next != "ask" {
		t.Errorf("Branch(SALES) = %q, %v", next, ok)
	}
	if _, ok := f.Branch("menu", ""); ok {
		t.Error("empty label must not match the default edge")
	}
	if next, ok := f.DefaultBranch("menu"); !ok || next != "bye" {
		t.Errorf("DefaultBranch = %q, %v", next, ok)
	}
	if next, ok := f.Successor("ask"); !ok || next != "bye" {
		t.Errorf("Successor(ask) = %q, %v", next, ok)
	}
	if _, ok := f.Successor("bye"); ok {
		t.Error("end node has no successor")
	}
	if start, ok := f.StartNode(); !ok || start.ID != "start" {
		t.Errorf("StartNode = %v, %v", start, ok)
	}
}

func TestMatchesTrigger(t *testing.T) {
	f := &Flow{Triggers: []string{"Menu", " oi "}}
	tests := []struct {
		text string
		want bool
	}{
		{"menu", true},
		{"I want the MENU now", true},
		{"oi", true},
		{"menus", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := f.MatchesTrigger(tt.text); got != tt.want {
			t.Errorf("MatchesTrigger(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
	if (&Flow{}).MatchesTrigger("menu") {
		t.Error("a flow without triggers never matches")
	}
}
