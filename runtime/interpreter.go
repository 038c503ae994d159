package runtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatflow/runtime/condition"
)

const paragraphSeparator = "\n\n"

// Codes set on failed results that carry no error, so callers can tell a
// "nothing to do" answer from a real failure.
const (
	CodeNoActiveFlow     = "NO_ACTIVE_FLOW"
	CodeNotAwaitingInput = "NOT_AWAITING_INPUT"
	CodeNoTrigger        = "NO_TRIGGER"
)

// Adapters are the side-effecting collaborators of the interpreter. Nil
// fields fall back to inert implementations: webhooks fail, media is never
// found and the tenant is always open.
type Adapters struct {
	Webhooks WebhookInvoker
	Media    MediaResolver
	Hours    BusinessHours
	Sink     OutboundSink
}

// Interpreter drives conversation flow instances. It is safe for concurrent
// use: every operation on a contact tuple runs under that tuple's lock, and
// stores reject stale writes through the instance version.
type Interpreter struct {
	l          *slog.Logger
	cfg        EngineConfig
	flows      DefinitionStore
	store      InstanceStore
	adapters   Adapters
	conditions *condition.Evaluator
	locks      *Locker
	scheduler  *Scheduler
	now        func() time.Time
}

func NewInterpreter(l *slog.Logger, cfg EngineConfig, flows DefinitionStore, store InstanceStore, adapters Adapters) *Interpreter {
	if l == nil {
		l = slog.Default()
	}
	if adapters.Webhooks == nil {
		adapters.Webhooks = noWebhooks{}
	}
	if adapters.Media == nil {
		adapters.Media = noMedia{}
	}
	if adapters.Hours == nil {
		adapters.Hours = alwaysOpen{}
	}
	if adapters.Sink == nil {
		adapters.Sink = logSink{l: l}
	}
	return &Interpreter{
		l:          l,
		cfg:        cfg,
		flows:      flows,
		store:      store,
		adapters:   adapters,
		conditions: condition.NewEvaluator(l),
		locks:      NewLocker(),
		scheduler:  NewScheduler(l),
		now:        time.Now,
	}
}

// Scheduler exposes the delay scheduler so it can be shut down with the process.
func (i *Interpreter) Scheduler() *Scheduler {
	return i.scheduler
}

// ShouldStartFlow returns the first enabled flow of the tenant whose trigger
// keywords intersect the message tokens.
func (i *Interpreter) ShouldStartFlow(ctx context.Context, tenantID, text string) (string, bool) {
	flows, err := i.flows.ListFlows(ctx, tenantID)
	if err != nil {
		i.l.ErrorContext(ctx, "Failed to list flows", "tenant", tenantID, "error", err)
		return "", false
	}
	for _, f := range flows {
		if f.Enabled() && f.MatchesTrigger(text) {
			return f.ID, true
		}
	}
	return "", false
}

// StartFlow starts flowID for the contact and runs it until the first node
// that suspends, pauses or ends the flow. Any other active instance of the
// tuple is deactivated. Failures never escape as errors: a failed Result
// means "no flow response".
func (i *Interpreter) StartFlow(ctx context.Context, key ContactKey, flowID, triggerText string) Result {
	unlock := i.locks.Lock(key)
	defer unlock()
	return i.start(ctx, key, flowID, triggerText)
}

// ResumeFlow feeds inputText to the contact's active instance. It is a
// no-op failure when no instance is awaiting input.
func (i *Interpreter) ResumeFlow(ctx context.Context, key ContactKey, inputText string) Result {
	unlock := i.locks.Lock(key)
	defer unlock()
	return i.resume(ctx, key, inputText)
}

// Handle is the entry point for an inbound message: it resumes a flow that
// awaits input, otherwise starts the first flow whose trigger matches.
func (i *Interpreter) Handle(ctx context.Context, key ContactKey, text string) Result {
	unlock := i.locks.Lock(key)
	defer unlock()

	res := i.resume(ctx, key, text)
	if res.Code != CodeNoActiveFlow && res.Code != CodeNotAwaitingInput {
		return res
	}
	flowID, ok := i.ShouldStartFlow(ctx, key.TenantID, text)
	if !ok {
		return Result{Code: CodeNoTrigger}
	}
	return i.start(ctx, key, flowID, text)
}

// CancelFlow deactivates the contact's active instance, e.g. when an agent
// closes the ticket. It is not an error when nothing is active.
func (i *Interpreter) CancelFlow(ctx context.Context, key ContactKey, reason string) error {
	unlock := i.locks.Lock(key)
	defer unlock()

	inst, err := i.store.GetActive(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	nodeID := inst.CurrentNodeID
	inst.Active = false
	inst.AwaitingInput = false
	inst.UpdatedAt = i.now()
	if err := i.store.Update(ctx, inst); err != nil {
		return err
	}
	i.scheduler.Cancel(inst.ID)

	entry := HistoryEntry{
		InstanceID: inst.ID,
		NodeID:     nodeID,
		Action:     ActionExecuted,
		Output:     "cancelled: " + reason,
		Timestamp:  i.now(),
	}
	if err := i.store.AppendHistory(ctx, entry); err != nil {
		i.l.WarnContext(ctx, "Failed to append history", "instance", inst.ID, "error", err)
	}
	i.l.InfoContext(ctx, "Flow cancelled", "instance", inst.ID, "contact", key.ContactID, "reason", reason)
	return nil
}

func (i *Interpreter) start(ctx context.Context, key ContactKey, flowID, triggerText string) Result {
	flow, err := i.flows.GetFlow(ctx, key.TenantID, flowID)
	if err != nil {
		code := ErrorCodeDefinitionNotFound
		if !errors.Is(err, ErrNotFound) {
			code = ErrorCodeStoreError
		}
		i.l.WarnContext(ctx, "Flow definition unavailable", "tenant", key.TenantID, "flow", flowID, "error", err)
		return Result{Code: string(code)}
	}
	if !flow.Enabled() {
		i.l.WarnContext(ctx, "Flow definition disabled", "tenant", key.TenantID, "flow", flowID)
		return Result{Code: string(ErrorCodeDefinitionDisabled)}
	}
	startNode, ok := flow.StartNode()
	if !ok {
		err := definitionError(ErrorCodeStartNodeMissing, flow.ID, "flow has no start node")
		i.l.WarnContext(ctx, "Flow definition rejected", "tenant", key.TenantID, "flow", flowID, "error", err)
		return Result{Code: string(err.Code)}
	}

	now := i.now()
	inst := &Instance{
		ID:            uuid.NewString(),
		Key:           key,
		FlowID:        flow.ID,
		CurrentNodeID: startNode.ID,
		Active:        true,
		Variables: Variables{
			"triggerText": StringValue(triggerText),
			"startedAt":   StringValue(now.UTC().Format(time.RFC3339)),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	t := i.newTurn(ctx, flow, inst, true)
	i.l.InfoContext(ctx, "Starting flow", "flow", flow.ID, "instance", inst.ID, "contact", key.ContactID)
	if err := i.proceed(t, nil, outcome{kind: advance, next: startNode.ID}); err != nil {
		return i.fail(t, err)
	}
	return i.commit(t)
}

func (i *Interpreter) resume(ctx context.Context, key ContactKey, input string) Result {
	stored, err := i.store.GetActive(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			i.l.ErrorContext(ctx, "Failed to load active instance", "contact", key.ContactID, "error", err)
			return Result{Code: string(ErrorCodeStoreError)}
		}
		return Result{Code: CodeNoActiveFlow}
	}
	if !stored.AwaitingInput {
		i.l.DebugContext(ctx, "Instance not awaiting input", "instance", stored.ID, "node", stored.CurrentNodeID)
		return Result{Code: CodeNotAwaitingInput, InstanceID: stored.ID}
	}

	flow, err := i.flows.GetFlow(ctx, key.TenantID, stored.FlowID)
	if err != nil {
		i.l.ErrorContext(ctx, "Flow definition of active instance unavailable",
			"instance", stored.ID, "flow", stored.FlowID, "error", err)
		return Result{Code: string(ErrorCodeDefinitionNotFound), InstanceID: stored.ID}
	}

	t := i.newTurn(ctx, flow, stored.Clone(), false)
	node, ok := flow.Node(stored.CurrentNodeID)
	if !ok {
		return i.fail(t, internalError(ErrorCodeNodeNotFound, stored.CurrentNodeID, ErrNotFound))
	}

	t.record(node, ActionUserInput, input, "", "")
	out, err := i.resumeNode(t, node, input)
	if err != nil {
		return i.fail(t, err)
	}
	if err := i.proceed(t, node, out); err != nil {
		return i.fail(t, err)
	}
	return i.commit(t)
}

// proceed applies out for node and keeps executing successors until a node
// suspends, pauses or finishes the instance.
func (i *Interpreter) proceed(t *turn, node *Node, out outcome) error {
	for {
		switch out.kind {
		case suspend:
			t.inst.CurrentNodeID = node.ID
			t.inst.AwaitingInput = true
			return nil
		case pause:
			t.inst.CurrentNodeID = node.ID
			t.inst.AwaitingInput = false
			t.delay = &pendingDelay{nodeID: node.ID, wait: out.wait}
			return nil
		case finish:
			t.inst.Active = false
			t.inst.AwaitingInput = false
			return nil
		}

		if out.next == "" {
			t.inst.Active = false
			t.inst.AwaitingInput = false
			return nil
		}
		next, ok := t.flow.Node(out.next)
		if !ok {
			return internalError(ErrorCodeNodeNotFound, out.next, ErrNotFound)
		}
		t.steps++
		if t.steps > i.cfg.MaxAutoSteps {
			return &FlowError{
				Type:    ErrorTypeInternal,
				Code:    ErrorCodeAutoStepLimit,
				Message: "too many nodes executed in one turn",
				Flow:    t.flow.ID,
				Node:    next.ID,
			}
		}

		node = next
		t.inst.CurrentNodeID = node.ID
		t.inst.AwaitingInput = false
		t.record(node, ActionEntered, "", "", "")

		var err error
		if out, err = i.execute(t, node); err != nil {
			return err
		}
	}
}

// commit persists the turn. A new instance first deactivates whatever else
// was active for the tuple.
func (i *Interpreter) commit(t *turn) Result {
	inst := t.inst
	inst.UpdatedAt = i.now()

	if t.isNew {
		ids, err := i.store.StartInstance(t.ctx, inst)
		if err != nil {
			return i.fail(t, internalError(ErrorCodeStoreError, inst.CurrentNodeID, err))
		}
		for _, id := range ids {
			i.scheduler.Cancel(id)
		}
	} else if err := i.store.Update(t.ctx, inst); err != nil {
		return i.fail(t, internalError(ErrorCodeStoreError, inst.CurrentNodeID, err))
	}

	i.flushHistory(t)

	switch {
	case !inst.Active:
		i.scheduler.Cancel(inst.ID)
		i.l.InfoContext(t.ctx, "Flow finished", "instance", inst.ID, "flow", t.flow.ID, "node", inst.CurrentNodeID)
	case t.delay != nil:
		i.scheduleDelay(inst, *t.delay)
	}

	return t.result()
}

// fail logs err, records it in history and returns a failed result. The
// stored instance is left untouched so the next event retries the node.
func (i *Interpreter) fail(t *turn, err error) Result {
	nodeID := t.inst.CurrentNodeID
	var fe *FlowError
	if errors.As(err, &fe) && fe.Node != "" {
		nodeID = fe.Node
	}
	var kind NodeKind
	if n, ok := t.flow.Node(nodeID); ok {
		kind = n.Kind
	}

	i.l.ErrorContext(t.ctx, "Flow turn failed",
		"instance", t.inst.ID,
		"flow", t.flow.ID,
		"node", nodeID,
		"error", err)

	t.history = append(t.history, HistoryEntry{
		InstanceID: t.inst.ID,
		NodeID:     nodeID,
		NodeKind:   kind,
		Action:     ActionError,
		Output:     err.Error(),
		Timestamp:  i.now(),
	})
	i.flushHistory(t)

	return Result{
		Text:       i.cfg.Messages.InternalError,
		InstanceID: t.inst.ID,
		Code:       string(codeOf(err)),
	}
}

func (i *Interpreter) flushHistory(t *turn) {
	if len(t.history) == 0 {
		return
	}
	if err := i.store.AppendHistory(t.ctx, t.history...); err != nil {
		i.l.WarnContext(t.ctx, "Failed to append history", "instance", t.inst.ID, "error", err)
	}
	t.history = nil
}

func (i *Interpreter) scheduleDelay(inst *Instance, d pendingDelay) {
	key, id := inst.Key, inst.ID
	i.scheduler.Schedule(id, d.wait, func() {
		i.continueAfterDelay(key, id, d.nodeID)
	})
}

// continueAfterDelay re-enters the interpreter when a delay fires. It only
// continues when the same instance is still active and parked on the delay
// node that scheduled it.
func (i *Interpreter) continueAfterDelay(key ContactKey, instanceID, nodeID string) {
	ctx, cancel := context.WithTimeout(context.Background(), i.cfg.ContinueTimeout)
	defer cancel()

	unlock := i.locks.Lock(key)
	defer unlock()

	stored, err := i.store.GetActive(ctx, key)
	if err != nil || stored.ID != instanceID || stored.CurrentNodeID != nodeID || stored.AwaitingInput {
		i.l.InfoContext(ctx, "Dropping stale delay continuation", "instance", instanceID, "node", nodeID)
		entry := HistoryEntry{
			InstanceID: instanceID,
			NodeID:     nodeID,
			NodeKind:   NodeDelay,
			Action:     ActionTimeout,
			Output:     "continuation dropped",
			Timestamp:  i.now(),
		}
		if err := i.store.AppendHistory(ctx, entry); err != nil {
			i.l.WarnContext(ctx, "Failed to append history", "instance", instanceID, "error", err)
		}
		return
	}
	flow, err := i.flows.GetFlow(ctx, key.TenantID, stored.FlowID)
	if err != nil {
		i.l.ErrorContext(ctx, "Flow definition unavailable for delay continuation", "instance", instanceID, "error", err)
		return
	}
	node, ok := flow.Node(nodeID)
	if !ok {
		i.l.ErrorContext(ctx, "Delay node vanished from flow", "instance", instanceID, "node", nodeID)
		return
	}

	t := i.newTurn(ctx, flow, stored.Clone(), false)
	t.record(node, ActionTimeout, "", "", "")
	next, _ := flow.Successor(node.ID)
	if err := i.proceed(t, node, outcome{kind: advance, next: next}); err != nil {
		i.fail(t, err)
		return
	}
	res := i.commit(t)
	if res.Success && (!res.Silent() || res.Handoff != nil) {
		i.adapters.Sink.Deliver(ctx, key, res)
	}
}

type pendingDelay struct {
	nodeID string
	wait   time.Duration
}

// turn is the scratch state of one interpreter call. The instance it holds
// is a private copy that only reaches the store on commit.
type turn struct {
	ctx     context.Context
	flow    *Flow
	inst    *Instance
	isNew   bool
	texts   []string
	media   *MediaRef
	handoff *Handoff
	pending *string
	delay   *pendingDelay
	steps   int
	history []HistoryEntry
	now     func() time.Time
}

func (i *Interpreter) newTurn(ctx context.Context, flow *Flow, inst *Instance, isNew bool) *turn {
	if inst.Variables == nil {
		inst.Variables = Variables{}
	}
	return &turn{ctx: ctx, flow: flow, inst: inst, isNew: isNew, now: i.now}
}

func (t *turn) say(text string) {
	if strings.TrimSpace(text) != "" {
		t.texts = append(t.texts, text)
	}
}

func (t *turn) record(n *Node, action HistoryAction, input, output, label string) {
	t.history = append(t.history, HistoryEntry{
		InstanceID:     t.inst.ID,
		NodeID:         n.ID,
		NodeKind:       n.Kind,
		Action:         action,
		Input:          input,
		Output:         output,
		ConditionLabel: label,
		Timestamp:      t.now(),
	})
}

func (t *turn) result() Result {
	return Result{
		Success:       true,
		Text:          strings.Join(t.texts, paragraphSeparator),
		Media:         t.media,
		AwaitingInput: t.inst.AwaitingInput,
		Ended:         !t.inst.Active,
		Handoff:       t.handoff,
		InstanceID:    t.inst.ID,
	}
}

type noWebhooks struct{}

func (noWebhooks) Invoke(context.Context, WebhookRequest) WebhookResponse {
	return WebhookResponse{Err: errors.New("no webhook invoker configured")}
}

type noMedia struct{}

func (noMedia) Resolve(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

type alwaysOpen struct{}

func (alwaysOpen) IsOpenNow(context.Context, string) (bool, error) { return true, nil }

func (alwaysOpen) NextOpenTime(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

type logSink struct {
	l *slog.Logger
}

func (s logSink) Deliver(ctx context.Context, key ContactKey, res Result) {
	s.l.WarnContext(ctx, "No outbound sink configured, dropping delayed response",
		"contact", key.ContactID, "instance", res.InstanceID)
}
