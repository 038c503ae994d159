package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatflow/runtime/condition"
	"chatflow/runtime/validate"
)

type transition uint8

const (
	// advance moves to outcome.next, or ends the instance when next is empty.
	advance transition = iota
	// suspend parks the instance on the node until the contact replies.
	suspend
	// pause parks the instance on a delay node until its timer fires.
	pause
	// finish deactivates the instance.
	finish
)

type outcome struct {
	kind transition
	next string
	wait time.Duration
}

func advanceTo(next string) outcome {
	return outcome{kind: advance, next: next}
}

// execute runs the entry side of n. Panics are turned into internal errors
// so a broken node config cannot take the process down.
func (i *Interpreter) execute(t *turn, n *Node) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = internalError(ErrorCodeRuntimeError, n.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	switch n.Kind {
	case NodeStart:
		t.record(n, ActionExecuted, "", "", "")
		next, _ := t.flow.Successor(n.ID)
		return advanceTo(next), nil
	case NodeMessage:
		return i.execMessage(t, n)
	case NodeImage, NodeFile:
		return i.execMedia(t, n)
	case NodeInput:
		return i.execInput(t, n)
	case NodeCondition:
		return i.execCondition(t, n)
	case NodeDelay:
		return i.execDelay(t, n)
	case NodeWebhook:
		return i.execWebhook(t, n)
	case NodeTransfer:
		return i.execTransfer(t, n)
	case NodeTicket:
		return i.execTicket(t, n)
	case NodeEnd:
		return i.execEnd(t, n)
	}

	i.l.WarnContext(t.ctx, "Unknown node type, passing through", "node", n.ID, "type", n.Kind)
	t.record(n, ActionExecuted, "", "unknown node type", "")
	next, _ := t.flow.Successor(n.ID)
	return advanceTo(next), nil
}

// resumeNode consumes the contact's reply on the node the instance is parked on.
func (i *Interpreter) resumeNode(t *turn, n *Node, input string) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = internalError(ErrorCodeRuntimeError, n.ID, fmt.Errorf("panic: %v", r))
		}
	}()

	switch n.Kind {
	case NodeInput:
		return i.resumeInput(t, n, input)
	case NodeCondition:
		return i.branch(t, n, input)
	case NodeTransfer:
		// A transfer that could not hand off retries on every reply.
		return i.execTransfer(t, n)
	}

	t.pending = &input
	next, _ := t.flow.Successor(n.ID)
	return advanceTo(next), nil
}

func decodeConfig(n *Node, target any) error {
	if err := n.DecodeConfig(target); err != nil {
		return internalError(ErrorCodeRuntimeError, n.ID, fmt.Errorf("decode %s config: %w", n.Kind, err))
	}
	return nil
}

// afterOutput decides what follows a node that sent something to the contact.
func afterOutput(t *turn, n *Node, await bool) outcome {
	next, ok := t.flow.Successor(n.ID)
	if !ok {
		return outcome{kind: finish}
	}
	if await {
		return outcome{kind: suspend}
	}
	return advanceTo(next)
}

func (i *Interpreter) execMessage(t *turn, n *Node) (outcome, error) {
	var cfg MessageConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}
	text := Render(cfg.Text, t.inst.Variables)
	t.say(text)
	t.record(n, ActionExecuted, "", text, "")
	return afterOutput(t, n, cfg.awaits()), nil
}

func (i *Interpreter) execMedia(t *turn, n *Node) (outcome, error) {
	var cfg MediaConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}

	url, ok, err := i.adapters.Media.Resolve(t.ctx, cfg.MediaID, t.inst.Key.TenantID)
	switch {
	case err != nil || !ok:
		i.l.WarnContext(t.ctx, "Media unavailable", "node", n.ID, "media", cfg.MediaID, "error", err)
		t.say(i.cfg.Messages.MediaUnavailable)
		t.record(n, ActionExecuted, "", "media unavailable", "")
	default:
		if t.media == nil {
			t.media = &MediaRef{URL: url, Kind: n.Kind, FileName: cfg.FileName}
		} else {
			i.l.WarnContext(t.ctx, "Only the first media of a turn is delivered", "node", n.ID, "media", cfg.MediaID)
		}
		caption := Render(cfg.Caption, t.inst.Variables)
		t.say(caption)
		t.record(n, ActionExecuted, "", url, "")
	}
	return afterOutput(t, n, cfg.awaits()), nil
}

func (i *Interpreter) execInput(t *turn, n *Node) (outcome, error) {
	var cfg InputConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}
	prompt := Render(cfg.Prompt, t.inst.Variables)
	t.say(prompt)
	t.record(n, ActionExecuted, "", prompt, "")
	return outcome{kind: suspend}, nil
}

func (i *Interpreter) resumeInput(t *turn, n *Node, input string) (outcome, error) {
	var cfg InputConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}

	value := strings.TrimSpace(input)
	format := validate.ParseFormat(cfg.Format)
	switch {
	case value == "" && cfg.Required:
		t.say(firstNonEmpty(cfg.ErrorMessage, i.cfg.Messages.InputRequired))
		t.record(n, ActionExecuted, input, "required", "")
		return outcome{kind: suspend}, nil
	case !format.Check(value):
		t.say(firstNonEmpty(cfg.ErrorMessage, validate.DefaultMessage(format)))
		t.record(n, ActionExecuted, input, "invalid "+string(format), "")
		return outcome{kind: suspend}, nil
	}

	if cfg.Variable != "" {
		t.inst.Variables[cfg.Variable] = StringValue(value)
	}
	t.record(n, ActionExecuted, input, cfg.Variable, "")
	next, _ := t.flow.Successor(n.ID)
	return advanceTo(next), nil
}

// execCondition evaluates right away when this turn already consumed a
// reply; otherwise it prompts and waits for one.
func (i *Interpreter) execCondition(t *turn, n *Node) (outcome, error) {
	if t.pending != nil {
		input := *t.pending
		t.pending = nil
		return i.branch(t, n, input)
	}

	var cfg ConditionConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}
	prompt := Render(cfg.Prompt, t.inst.Variables)
	t.say(prompt)
	t.record(n, ActionExecuted, "", prompt, "")
	return outcome{kind: suspend}, nil
}

func (i *Interpreter) branch(t *turn, n *Node, input string) (outcome, error) {
	var cfg ConditionConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}

	vars := t.inst.Variables
	env := condition.Env{
		Message:   input,
		UserName:  firstNonEmpty(vars.Text("user_name"), vars.Text("name")),
		Phone:     firstNonEmpty(vars.Text("phone"), t.inst.Key.ContactID),
		Variables: vars.Map(),
	}

	if idx, ok := i.conditions.Select(cfg.Rules, env); ok {
		label := cfg.Rules[idx].Label
		t.record(n, ActionConditionMet, input, "", label)
		next, found := t.flow.Branch(n.ID, label)
		if !found {
			i.l.WarnContext(t.ctx, "Matched branch has no edge, ending flow", "node", n.ID, "label", label)
			return outcome{kind: finish}, nil
		}
		return advanceTo(next), nil
	}

	next, found := t.flow.DefaultBranch(n.ID)
	t.record(n, ActionExecuted, input, "default", "")
	if !found {
		i.l.InfoContext(t.ctx, "No branch matched and no default edge, ending flow", "node", n.ID)
		return outcome{kind: finish}, nil
	}
	return advanceTo(next), nil
}

func (i *Interpreter) execDelay(t *turn, n *Node) (outcome, error) {
	var cfg DelayConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}
	wait := cfg.wait()
	t.record(n, ActionExecuted, "", wait.String(), "")
	if wait <= 0 {
		next, _ := t.flow.Successor(n.ID)
		return advanceTo(next), nil
	}
	return outcome{kind: pause, wait: wait}, nil
}

// execWebhook calls out and always advances. Failures are logged and leave
// the variables untouched.
func (i *Interpreter) execWebhook(t *turn, n *Node) (outcome, error) {
	var cfg WebhookConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}
	next, _ := t.flow.Successor(n.ID)

	req, err := buildWebhookRequest(t, n, cfg)
	if err != nil {
		i.l.WarnContext(t.ctx, "Skipping webhook, request could not be built", "node", n.ID, "error", err)
		t.record(n, ActionExecuted, "", "skipped: "+err.Error(), "")
		return advanceTo(next), nil
	}
	req.Timeout = cfg.Timeout
	if req.Timeout <= 0 {
		req.Timeout = i.cfg.WebhookTimeout
	}

	ctx, cancel := context.WithTimeout(t.ctx, req.Timeout)
	resp := i.adapters.Webhooks.Invoke(ctx, req)
	cancel()

	if !resp.Success {
		i.l.WarnContext(t.ctx, "Webhook failed",
			"node", n.ID,
			"url", req.URL,
			"status", resp.Status,
			"error", resp.Err)
	} else if cfg.WaitResponse && cfg.ResponseVariable != "" {
		t.inst.Variables[cfg.ResponseVariable] = responseValue(resp.Body, cfg.ResponsePath)
	}
	t.record(n, ActionExecuted, "", fmt.Sprintf("status=%d success=%t", resp.Status, resp.Success), "")
	return advanceTo(next), nil
}

func (i *Interpreter) execTransfer(t *turn, n *Node) (outcome, error) {
	var cfg TransferConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}
	vars := t.inst.Variables
	tenant := t.inst.Key.TenantID

	open, err := i.adapters.Hours.IsOpenNow(t.ctx, tenant)
	if err != nil {
		i.l.WarnContext(t.ctx, "Business hours lookup failed", "node", n.ID, "tenant", tenant, "error", err)
		t.say(Render(firstNonEmpty(cfg.ErrorMessage, i.cfg.Messages.TransferUnavailable), vars))
		t.record(n, ActionExecuted, "", "hours lookup failed", "")
		return outcome{kind: suspend}, nil
	}

	if !open {
		msg := Render(firstNonEmpty(cfg.ClosedMessage, i.cfg.Messages.TransferClosed), vars)
		next, ok, err := i.adapters.Hours.NextOpenTime(t.ctx, tenant)
		if err != nil {
			i.l.WarnContext(t.ctx, "Next opening lookup failed", "tenant", tenant, "error", err)
		} else if ok {
			msg += " " + i.nextOpenText(next)
		}
		t.say(msg)
		t.record(n, ActionExecuted, "", "closed", "")
		return outcome{kind: suspend}, nil
	}

	msg := Render(firstNonEmpty(cfg.Message, i.cfg.Messages.Transfer), vars)
	t.say(msg)
	t.handoff = &Handoff{Kind: NodeTransfer, Queue: cfg.Queue}
	t.record(n, ActionExecuted, "", "transferred", "")
	return outcome{kind: finish}, nil
}

func (i *Interpreter) nextOpenText(next time.Time) string {
	when := next.Format(i.cfg.NextOpenLayout)
	tmpl := i.cfg.Messages.NextOpen
	if strings.Contains(tmpl, "%s") {
		return fmt.Sprintf(tmpl, when)
	}
	return strings.TrimSpace(tmpl + " " + when)
}

func (i *Interpreter) execTicket(t *turn, n *Node) (outcome, error) {
	var cfg TicketConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}
	msg := Render(firstNonEmpty(cfg.Message, i.cfg.Messages.Ticket), t.inst.Variables)
	t.say(msg)
	t.handoff = &Handoff{Kind: NodeTicket}
	t.record(n, ActionExecuted, "", msg, "")
	return outcome{kind: finish}, nil
}

func (i *Interpreter) execEnd(t *turn, n *Node) (outcome, error) {
	var cfg EndConfig
	if err := decodeConfig(n, &cfg); err != nil {
		return outcome{}, err
	}
	msg := Render(firstNonEmpty(cfg.Message, i.cfg.Messages.End), t.inst.Variables)
	t.say(msg)
	t.record(n, ActionExecuted, "", msg, "")
	return outcome{kind: finish}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
