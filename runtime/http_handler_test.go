package runtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"chatflow/runtime"
	"chatflow/runtime/store/memory"
)

func newTestApp(t *testing.T) (*runtime.App, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	menu := conditionFlow()
	menu.TenantID = contact.TenantID
	menu.Triggers = []string{"menu"}

	c := runtime.NewContainer()
	if err := c.Register("definitions", memory.NewDefinitions(menu)); err != nil {
		t.Fatal(err)
	}
	if err := c.Register("instances", memory.NewInstances()); err != nil {
		t.Fatal(err)
	}
	app, err := runtime.NewApp(discardLogger(), runtime.DefaultEngineConfig(), c)
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app, app.Router()
}

func do(t *testing.T, g *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	g.ServeHTTP(w, req)
	return w
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) runtime.Result {
	t.Helper()
	var res runtime.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return res
}

const contactURL = "/api/v1/tenants/acme/sessions/wa-1/contacts/5511987654321"

func TestHTTP_MessageLifecycle(t *testing.T) {
	_, g := newTestApp(t)

	w := do(t, g, http.MethodPost, contactURL+"/messages", `{"text": "hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if res := decodeResult(t, w); res.Success || res.Code != runtime.CodeNoTrigger {
		t.Errorf("no trigger result = %+v", res)
	}

	w = do(t, g, http.MethodPost, contactURL+"/messages", `{"text": "menu"}`)
	res := decodeResult(t, w)
	if !res.Success || res.Text != "Type 1 for sales" || !res.AwaitingInput {
		t.Fatalf("trigger result = %+v", res)
	}

	w = do(t, g, http.MethodGet, contactURL+"/flow", "")
	if w.Code != http.StatusOK {
		t.Fatalf("active flow status = %d", w.Code)
	}
	var inst runtime.Instance
	if err := json.Unmarshal(w.Body.Bytes(), &inst); err != nil {
		t.Fatal(err)
	}
	if inst.ID != res.InstanceID || inst.CurrentNodeID != "pick" || inst.Variables["triggerText"].String() != "menu" {
		t.Errorf("active instance = %+v", inst)
	}

	w = do(t, g, http.MethodPost, contactURL+"/resume", `{"text": "1"}`)
	if res := decodeResult(t, w); res.Text != "Sales" || !res.Ended {
		t.Errorf("resume result = %+v", res)
	}

	if w := do(t, g, http.MethodGet, contactURL+"/flow", ""); w.Code != http.StatusNotFound {
		t.Errorf("finished flow should not be active, status %d", w.Code)
	}

	w = do(t, g, http.MethodGet, "/api/v1/instances/"+res.InstanceID+"/history", "")
	var history []runtime.HistoryEntry
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatal(err)
	}
	if len(history) == 0 {
		t.Error("history should not be empty")
	}
}

func TestHTTP_StartAndCancel(t *testing.T) {
	_, g := newTestApp(t)

	w := do(t, g, http.MethodPost, contactURL+"/flows/menu/start", `{"trigger_text": "from campaign"}`)
	res := decodeResult(t, w)
	if !res.Success {
		t.Fatalf("start = %+v", res)
	}

	w = do(t, g, http.MethodDelete, contactURL+"/flow", `{"reason": "agent took over"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d", w.Code)
	}

	w = do(t, g, http.MethodGet, "/api/v1/instances/"+res.InstanceID, "")
	var inst runtime.Instance
	if err := json.Unmarshal(w.Body.Bytes(), &inst); err != nil {
		t.Fatal(err)
	}
	if inst.Active {
		t.Error("cancelled instance is still active")
	}

	w = do(t, g, http.MethodPost, contactURL+"/flows/nope/start", "")
	if res := decodeResult(t, w); res.Success || res.Code != string(runtime.ErrorCodeDefinitionNotFound) {
		t.Errorf("unknown flow = %+v", res)
	}
}

func TestHTTP_BadRequests(t *testing.T) {
	_, g := newTestApp(t)

	if w := do(t, g, http.MethodPost, contactURL+"/messages", `{"text": `); w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", w.Code)
	}
	if w := do(t, g, http.MethodGet, "/api/v1/instances/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown instance status = %d", w.Code)
	}
}

func TestHTTP_TriggersAndHealth(t *testing.T) {
	_, g := newTestApp(t)

	w := do(t, g, http.MethodGet, "/api/v1/tenants/acme/triggers?text=show+menu", "")
	var body struct {
		Match  bool   `json:"match"`
		FlowID string `json:"flow_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Match || body.FlowID != "menu" {
		t.Errorf("trigger body = %+v", body)
	}

	if w := do(t, g, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}
