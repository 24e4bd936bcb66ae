//go:build !no_automation

package web

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"zigbee-energy-gateway/internal/automation"
	"zigbee-energy-gateway/internal/store"
)

func setupAutomationServer(t *testing.T) (*Server, *store.BoltStore, *automation.Engine) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr, err := automation.NewManager(t.TempDir(), logger)
	if err != nil {
		t.Fatal(err)
	}

	var engine *automation.Engine
	srv, db, _ := setupTestServer(t, func(s *Server) {
		engine = automation.NewEngine(s.gw, mgr, logger)
		WithAutomation(engine, mgr)(s)
	})
	engine.Start()
	t.Cleanup(engine.Stop)
	return srv, db, engine
}

func decodeScript(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.NewDecoder(body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	return got
}

func TestAPIAutomationsWithoutManager(t *testing.T) {
	srv, _, _ := setupTestServer(t)

	w := do(srv, "GET", "/api/automations", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("list = %d %q, want 200 []", w.Code, w.Body.String())
	}
	if w := do(srv, "POST", "/api/automations", `{"name":"x"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("create status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if w := do(srv, "POST", "/api/automations/_inline/run", `{"lua_code":""}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("run status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestAPIAutomationLifecycle(t *testing.T) {
	srv, _, engine := setupAutomationServer(t)

	body := `{"name":"Over Voltage","lua_code":"energy.log('hi')","enabled":true}`
	w := do(srv, "POST", "/api/automations", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	created := decodeScript(t, w.Body)
	if created["id"] != "over_voltage" {
		t.Fatalf("id = %v, want over_voltage", created["id"])
	}
	if created["running"] != true {
		t.Errorf("running = %v, want true", created["running"])
	}
	if !engine.Running("over_voltage") {
		t.Error("engine does not run the new script")
	}

	if w := do(srv, "GET", "/api/automations/over_voltage", ""); w.Code != http.StatusOK {
		t.Errorf("get status = %d, want %d", w.Code, http.StatusOK)
	}

	w = do(srv, "POST", "/api/automations/over_voltage/toggle", "")
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, want %d", w.Code, http.StatusOK)
	}
	if engine.Running("over_voltage") {
		t.Error("disabled script is still running")
	}

	w = do(srv, "PUT", "/api/automations/over_voltage", `{"name":"Over Voltage","lua_code":"x = 1","enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, want %d", w.Code, http.StatusOK)
	}
	if !engine.Running("over_voltage") {
		t.Error("re-enabled script is not running")
	}

	w = do(srv, "GET", "/api/automations", "")
	var list []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0]["lua_code"] != "x = 1\n" {
		t.Errorf("list = %v, want the updated script", list)
	}

	if w := do(srv, "DELETE", "/api/automations/over_voltage", ""); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", w.Code, http.StatusOK)
	}
	if engine.Running("over_voltage") {
		t.Error("deleted script is still running")
	}
	if w := do(srv, "DELETE", "/api/automations/over_voltage", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIAutomationLoadError(t *testing.T) {
	srv, _, _ := setupAutomationServer(t)

	w := do(srv, "POST", "/api/automations", `{"name":"broken","lua_code":"this is not lua","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	got := decodeScript(t, w.Body)
	if got["error"] == nil || got["error"] == "" {
		t.Error("load error not reported")
	}
	if got["running"] != false {
		t.Errorf("running = %v, want false", got["running"])
	}
}

func TestAPIAutomationErrors(t *testing.T) {
	srv, _, _ := setupAutomationServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"get missing", "GET", "/api/automations/nope", "", http.StatusNotFound},
		{"create without name", "POST", "/api/automations", `{"lua_code":"x = 1"}`, http.StatusBadRequest},
		{"create bad body", "POST", "/api/automations", `{`, http.StatusBadRequest},
		{"update missing", "PUT", "/api/automations/nope", `{"name":"x"}`, http.StatusNotFound},
		{"toggle missing", "POST", "/api/automations/nope/toggle", "", http.StatusNotFound},
		{"run missing", "POST", "/api/automations/nope/run", "", http.StatusNotFound},
		{"run inline bad body", "POST", "/api/automations/_inline/run", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(srv, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAPIRunInlineAutomation(t *testing.T) {
	srv, db, _ := setupAutomationServer(t)
	seedDevice(t, db, testIEEE, "SPM01X001")

	code := `
energy.on("reading", {ieee = "` + testIEEE + `", field = "energy"}, function(e)
  if e.value > 1 then
    energy.alert(e.ieee, "energy " .. e.value, "info")
  end
end)
energy.log("loaded")
`
	payload, err := json.Marshal(map[string]string{"lua_code": code})
	if err != nil {
		t.Fatal(err)
	}
	w := do(srv, "POST", "/api/automations/_inline/run", string(payload))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var result automation.RunResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatalf("run failed: %s", result.Error)
	}
	if len(result.Logs) != 1 || result.Logs[0] != "loaded" {
		t.Errorf("logs = %v, want [loaded]", result.Logs)
	}
	if len(result.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(result.Alerts))
	}
	if a := result.Alerts[0]; a.IEEE != testIEEE || a.Level != "info" || a.Message != "energy 1.5" {
		t.Errorf("alert = %+v", a)
	}
}
