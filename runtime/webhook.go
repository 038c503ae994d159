package runtime

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
)

const defaultAPIKeyHeader = "X-API-Key"

// buildWebhookRequest renders the URL, headers and body of a webhook node
// against the instance variables.
func buildWebhookRequest(t *turn, n *Node, cfg WebhookConfig) (WebhookRequest, error) {
	vars := t.inst.Variables

	url := strings.TrimSpace(Render(cfg.URL, vars))
	if url == "" {
		return WebhookRequest{}, fmt.Errorf("webhook url is empty")
	}

	headers := ToStringValueMap(cfg.Headers)
	for k, v := range headers {
		headers[k] = Render(v, vars)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	if err := applyAuth(headers, cfg.Auth, vars); err != nil {
		return WebhookRequest{}, err
	}

	body, err := webhookPayload(t, n, cfg)
	if err != nil {
		return WebhookRequest{}, err
	}

	contentType := strings.ToLower(cfg.ContentType)
	if contentType == "" {
		contentType = ContentTypeJSON
	}
	if contentType != ContentTypeJSON && contentType != ContentTypeForm {
		return WebhookRequest{}, fmt.Errorf("unsupported webhook content type %q", cfg.ContentType)
	}

	return WebhookRequest{
		URL:         url,
		Method:      cfg.method(),
		Headers:     headers,
		Body:        body,
		ContentType: contentType,
	}, nil
}

func applyAuth(headers map[string]string, auth WebhookAuth, vars Variables) error {
	switch strings.ToLower(auth.Type) {
	case "", "none":
	case "bearer":
		headers["Authorization"] = "Bearer " + Render(auth.Token, vars)
	case "api_key", "apikey":
		name := auth.HeaderName
		if name == "" {
			name = defaultAPIKeyHeader
		}
		headers[name] = Render(auth.Token, vars)
	case "basic":
		creds := Render(auth.Username, vars) + ":" + Render(auth.Password, vars)
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
	default:
		return fmt.Errorf("unsupported webhook auth type %q", auth.Type)
	}
	return nil
}

// webhookPayload builds the JSON body. A custom body template that renders
// to an object is used as the root; any other JSON value lands under "body".
// The variables and metadata sections are added on top when requested.
func webhookPayload(t *turn, n *Node, cfg WebhookConfig) (any, error) {
	payload := gabs.New()

	if strings.TrimSpace(cfg.Body) != "" {
		parsed, err := gabs.ParseJSON([]byte(RenderJSON(cfg.Body, t.inst.Variables)))
		if err != nil {
			return nil, fmt.Errorf("render webhook body: %w", err)
		}
		if _, isObject := parsed.Data().(map[string]any); isObject {
			payload = parsed
		} else if _, err := payload.Set(parsed.Data(), "body"); err != nil {
			return nil, err
		}
	}

	if cfg.IncludeVariables {
		if _, err := payload.Set(t.inst.Variables.Map(), "variables"); err != nil {
			return nil, err
		}
	}

	if cfg.IncludeMetadata {
		key := t.inst.Key
		meta := map[string]any{
			"tenant_id":   key.TenantID,
			"session_id":  key.SessionID,
			"contact_id":  key.ContactID,
			"instance_id": t.inst.ID,
			"flow_id":     t.flow.ID,
			"node_id":     n.ID,
			"timestamp":   t.now().UTC().Format(time.RFC3339),
		}
		if _, err := payload.Set(meta, "metadata"); err != nil {
			return nil, err
		}
	}

	return payload.Data(), nil
}

// responseValue converts a webhook response body into a variable. With a
// path, only the addressed element is kept; a missing path yields JSON null.
func responseValue(body []byte, path string) Value {
	if path == "" {
		return JSONValue(body)
	}
	parsed, err := gabs.ParseJSON(body)
	if err != nil {
		return StringValue(string(body))
	}
	if !parsed.ExistsP(path) {
		return JSONValue([]byte("null"))
	}
	return ValueOf(parsed.Path(path).Data())
}
