package runtime

import (
	"context"
	"time"
)

// Initializer interface allows adapters to perform startup initialization.
// Adapters registered in the Container will have Initialize called at startup.
type Initializer interface {
	// Initialize is called once when the container starts up.
	// Use this to establish connections, initialize clients, etc.
	Initialize(ctx context.Context) error
}

// Shutdowner interface allows adapters to perform graceful shutdown.
type Shutdowner interface {
	// Shutdown is called during graceful shutdown, in reverse registration order.
	Shutdown(ctx context.Context) error
}

// DefinitionStore reads authored flows. Implementations return ErrNotFound
// for unknown flows.
type DefinitionStore interface {
	GetFlow(ctx context.Context, tenantID, flowID string) (*Flow, error)
	ListFlows(ctx context.Context, tenantID string) ([]*Flow, error)
}

// InstanceStore persists conversation flow instances and their history.
//
// Update is a compare-and-swap: it succeeds only when the stored version
// equals in.Version, and on success bumps both the stored and in-memory
// version. A mismatch returns ErrVersionConflict.
type InstanceStore interface {
	GetActive(ctx context.Context, key ContactKey) (*Instance, error)
	GetInstance(ctx context.Context, id string) (*Instance, error)
	// StartInstance atomically deactivates every active instance of in.Key
	// and creates in, returning the deactivated ids. On error nothing is
	// written.
	StartInstance(ctx context.Context, in *Instance) ([]string, error)
	Update(ctx context.Context, in *Instance) error
	AppendHistory(ctx context.Context, entries ...HistoryEntry) error
	History(ctx context.Context, instanceID string) ([]HistoryEntry, error)
}

// WebhookRequest is one outbound call. Body is JSON encoded unless
// ContentType is ContentTypeForm, in which case a map body is flattened
// into form fields.
type WebhookRequest struct {
	URL         string
	Method      string
	Headers     map[string]string
	Body        any
	ContentType string
	Timeout     time.Duration
}

const (
	ContentTypeJSON = "json"
	ContentTypeForm = "form"
)

type WebhookResponse struct {
	Success bool
	Status  int
	Body    []byte
	Err     error
}

// WebhookInvoker performs outbound webhook calls. It never returns an error:
// network, timeout and non-2xx failures are reported in the response.
type WebhookInvoker interface {
	Invoke(ctx context.Context, req WebhookRequest) WebhookResponse
}

// MediaResolver turns a stored media identifier into a retrievable URL.
// ok is false when the media does not exist.
type MediaResolver interface {
	Resolve(ctx context.Context, mediaID, tenantID string) (url string, ok bool, err error)
}

// BusinessHours answers whether a tenant is currently open.
type BusinessHours interface {
	IsOpenNow(ctx context.Context, tenantID string) (bool, error)
	// NextOpenTime returns ok false when no opening can be computed.
	NextOpenTime(ctx context.Context, tenantID string) (next time.Time, ok bool, err error)
}

// OutboundSink delivers results produced outside of an inbound request,
// i.e. by a delay continuation.
type OutboundSink interface {
	Deliver(ctx context.Context, key ContactKey, res Result)
}
