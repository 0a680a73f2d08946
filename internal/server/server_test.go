package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/lifecycle"
	"caseline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := lifecycle.New(conn, cfg)
	fixed, _ := time.Parse(time.RFC3339, "2018-01-02T09:00:00+02:00")
	e.Now = func() time.Time { return fixed }
	handler, err := New(Config{
		Engine: e,
		Auth:   AuthConfig{AllowDevHeaders: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func sasHeaders() map[string]string {
	return map[string]string{"X-Role": "sas", "X-Actor-Id": "officer-1"}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope %s: %v", string(data), err)
	}
	return envelope.Error.Code
}

func createMonitoring(t *testing.T, srv *testServer, body map[string]any) map[string]any {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/monitorings", body, sasHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal case: %v", err)
	}
	return doc
}

func TestCreateRequiresOfficerRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	body := map[string]any{"tenderId": "tender-1"}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/monitorings", body, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("anonymous create: status %d body %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/monitorings", body,
		map[string]string{"X-Role": "brokers", "X-Actor-Id": "broker-1"})
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("broker create: status %d body %s", res.StatusCode, string(data))
	}
}

func TestRestrictedCaseIsMaskedPerViewer(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	created := createMonitoring(t, srv, map[string]any{
		"tenderId":        "tender-1",
		"procuringEntity": map[string]any{"name": "МОУ", "kind": "defense"},
		"parties":         []map[string]any{{"name": "ТОВ Постачальник"}},
	})
	id := created["id"].(string)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/monitorings/"+id, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("public get status %d: %s", res.StatusCode, string(data))
	}
	if got := res.Header.Get("X-Revision"); got != "1" {
		t.Errorf("X-Revision = %q, want 1", got)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	party := doc["parties"].([]any)[0].(map[string]any)
	if party["name"] != "Приховано" {
		t.Errorf("public viewer sees party name %v", party["name"])
	}

	_, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/monitorings/"+id, nil, sasHeaders())
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	party = doc["parties"].([]any)[0].(map[string]any)
	if party["name"] != "ТОВ Постачальник" {
		t.Errorf("authority viewer sees masked name %v", party["name"])
	}

	_, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/monitorings/"+id, nil,
		map[string]string{"X-Role": "brokers", "X-Actor-Id": "broker-1", "X-Accreditations": "4,6"})
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	party = doc["parties"].([]any)[0].(map[string]any)
	if party["name"] != "ТОВ Постачальник" {
		t.Errorf("accredited broker sees masked name %v", party["name"])
	}
}

func TestPatchTransitions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	created := createMonitoring(t, srv, map[string]any{"tenderId": "tender-1"})
	id := created["id"].(string)

	activate := map[string]any{
		"status":   "active",
		"decision": map[string]any{"description": "Підстави"},
	}
	headers := sasHeaders()
	headers["X-Revision"] = "1"
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/api/monitorings/"+id, activate, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activate status %d: %s", res.StatusCode, string(data))
	}
	if got := res.Header.Get("X-Revision"); got != "2" {
		t.Errorf("X-Revision after activation = %q", got)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["status"] != "active" {
		t.Errorf("status = %v", doc["status"])
	}
	if doc["monitoringPeriod"] == nil {
		t.Error("monitoringPeriod missing after activation")
	}

	// Stale revision loses.
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/api/monitorings/"+id,
		map[string]any{"reasons": []string{"indicator"}}, headers)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "conflict" {
		t.Fatalf("stale patch: status %d body %s", res.StatusCode, string(data))
	}

	headers["X-Revision"] = "2"
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/api/monitorings/"+id,
		map[string]any{"status": "cancelled", "cancellation": map[string]any{"description": "x"}}, headers)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "invalid_transition" {
		t.Fatalf("invalid transition: status %d body %s", res.StatusCode, string(data))
	}

	delete(headers, "X-Revision")
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/api/monitorings/"+id,
		map[string]any{"reasons": []string{"indicator"}}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing X-Revision: status %d body %s", res.StatusCode, string(data))
	}
}

func TestRevisionTrail(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	created := createMonitoring(t, srv, map[string]any{"tenderId": "tender-1"})
	id := created["id"].(string)

	headers := sasHeaders()
	headers["X-Revision"] = "1"
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/api/monitorings/"+id,
		map[string]any{"reasons": []string{"indicator"}}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/monitorings/"+id+"/revisions", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list revisions status %d: %s", res.StatusCode, string(data))
	}
	var recs []map[string]any
	if err := json.Unmarshal(data, &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("revisions = %d, want 2", len(recs))
	}
	if recs[1]["author"] != "officer-1" {
		t.Errorf("revision author = %v", recs[1]["author"])
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/monitorings/"+id+"/revisions/9", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing revision status %d: %s", res.StatusCode, string(data))
	}
}
