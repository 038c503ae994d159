package runtime

import (
	"strings"
	"time"

	"chatflow/runtime/condition"
)

// MessageConfig configures a message node. Await defaults to true.
type MessageConfig struct {
	Text  string `json:"text"`
	Await *bool  `json:"await"`
}

func (c MessageConfig) awaits() bool {
	return c.Await == nil || *c.Await
}

// MediaConfig configures image and file nodes.
type MediaConfig struct {
	MediaID  string `json:"media_id"`
	Caption  string `json:"caption"`
	FileName string `json:"file_name"`
	Await    *bool  `json:"await"`
}

func (c MediaConfig) awaits() bool {
	return c.Await == nil || *c.Await
}

type InputConfig struct {
	Variable     string `json:"variable"`
	Format       string `json:"format"`
	Required     bool   `json:"required"`
	Prompt       string `json:"prompt"`
	ErrorMessage string `json:"error_message"`
}

// ConditionConfig holds the ordered branch rules of a condition node. Each
// rule's Label names the outgoing edge followed when it matches.
type ConditionConfig struct {
	Prompt string           `json:"prompt"`
	Rules  []condition.Rule `json:"rules"`
}

type DelayConfig struct {
	Duration time.Duration `json:"duration"`
	Seconds  int           `json:"seconds"`
}

func (c DelayConfig) wait() time.Duration {
	if c.Duration > 0 {
		return c.Duration
	}
	return time.Duration(c.Seconds) * time.Second
}

// WebhookAuth selects how the outbound request authenticates.
// Type is one of "", "bearer", "api_key" or "basic".
type WebhookAuth struct {
	Type       string `json:"type"`
	Token      string `json:"token"`
	HeaderName string `json:"header_name"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

type WebhookConfig struct {
	URL              string         `json:"url"`
	Method           string         `json:"method"`
	Headers          map[string]any `json:"headers"`
	Auth             WebhookAuth    `json:"auth"`
	IncludeVariables bool           `json:"include_variables"`
	IncludeMetadata  bool           `json:"include_metadata"`
	Body             string         `json:"body"`
	ContentType      string         `json:"content_type"`
	WaitResponse     bool           `json:"wait_response"`
	ResponseVariable string         `json:"response_variable"`
	ResponsePath     string         `json:"response_path"`
	Timeout          time.Duration  `json:"timeout"`
}

func (c WebhookConfig) method() string {
	if c.Method == "" {
		return "POST"
	}
	return strings.ToUpper(c.Method)
}

type TransferConfig struct {
	Queue         string `json:"queue"`
	Message       string `json:"message"`
	ClosedMessage string `json:"closed_message"`
	ErrorMessage  string `json:"error_message"`
}

type TicketConfig struct {
	Message string `json:"message"`
}

type EndConfig struct {
	Message string `json:"message"`
}
