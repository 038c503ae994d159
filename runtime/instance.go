package runtime

import (
	"fmt"
	"time"
)

// ContactKey identifies the (tenant, channel session, contact) tuple that
// owns at most one active instance.
type ContactKey struct {
	TenantID  string `json:"tenant_id" uri:"tenant" binding:"required"`
	SessionID string `json:"session_id" uri:"session" binding:"required"`
	ContactID string `json:"contact_id" uri:"contact" binding:"required"`
}

func (k ContactKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.SessionID, k.ContactID)
}

// Instance is the persisted execution cursor of one contact's run through a
// flow. Only the interpreter mutates CurrentNodeID, Variables and
// AwaitingInput. Version is the optimistic concurrency token checked by
// InstanceStore.Update.
type Instance struct {
	ID            string     `json:"id"`
	Key           ContactKey `json:"key"`
	FlowID        string     `json:"flow_id"`
	CurrentNodeID string     `json:"current_node_id"`
	Active        bool       `json:"active"`
	AwaitingInput bool       `json:"awaiting_input"`
	Variables     Variables  `json:"variables"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so a turn can be discarded without touching the
// stored instance.
func (in *Instance) Clone() *Instance {
	c := *in
	c.Variables = in.Variables.Clone()
	return &c
}

// HistoryAction classifies an execution history entry.
type HistoryAction string

const (
	ActionEntered      HistoryAction = "ENTERED"
	ActionExecuted     HistoryAction = "EXECUTED"
	ActionUserInput    HistoryAction = "USER_INPUT"
	ActionConditionMet HistoryAction = "CONDITION_MET"
	ActionTimeout      HistoryAction = "TIMEOUT"
	ActionError        HistoryAction = "ERROR"
)

// HistoryEntry is an append-only audit record of one node visit. The
// interpreter never reads it back.
type HistoryEntry struct {
	InstanceID     string        `json:"instance_id"`
	NodeID         string        `json:"node_id"`
	NodeKind       NodeKind      `json:"node_type"`
	Action         HistoryAction `json:"action"`
	Input          string        `json:"input,omitempty"`
	Output         string        `json:"output,omitempty"`
	ConditionLabel string        `json:"condition_label,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// MediaRef points at a retrievable media object resolved by a MediaResolver.
type MediaRef struct {
	URL      string   `json:"url"`
	Kind     NodeKind `json:"kind"`
	FileName string   `json:"file_name,omitempty"`
}

// Handoff tells the caller that the flow handed the contact over to a human
// or asked for a ticket. Acting on it is the caller's concern.
type Handoff struct {
	Kind  NodeKind `json:"kind"`
	Queue string   `json:"queue,omitempty"`
}

// Result is what one interpreter call hands back to the messaging layer.
// A Result with Success false and empty Text means "no flow response": the
// caller falls through to its normal message handling.
type Result struct {
	Success       bool      `json:"success"`
	Text          string    `json:"response_text,omitempty"`
	Media         *MediaRef `json:"media,omitempty"`
	AwaitingInput bool      `json:"awaiting_input"`
	Ended         bool      `json:"ended"`
	Handoff       *Handoff  `json:"handoff,omitempty"`
	InstanceID    string    `json:"instance_id,omitempty"`
	Code          string    `json:"code,omitempty"`
}

// Silent reports whether the result carries nothing to deliver.
func (r Result) Silent() bool {
	return r.Text == "" && r.Media == nil
}
