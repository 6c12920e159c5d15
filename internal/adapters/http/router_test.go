package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/atvirokodosprendimai/pcbuilder/internal/adapters/catalogapi"
	"github.com/atvirokodosprendimai/pcbuilder/internal/adapters/db/sqlite"
	"github.com/atvirokodosprendimai/pcbuilder/internal/application"
	"github.com/atvirokodosprendimai/pcbuilder/internal/domain"
	"github.com/go-chi/chi/v5"
)

func fakeCatalogServer(t *testing.T) string {
	t.Helper()
	reply := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
	}

	r := chi.NewRouter()
	r.Route("/api/parts", func(r chi.Router) {
		r.Get("/cpus", reply(`[{"productId":"amd-7600","brand":"AMD","model":"Ryzen 5 7600","price":199}]`))
		r.Get("/gpus", reply(`[{"productId":"gpu-4070","brand":"NVIDIA","model":"RTX 4070","price":549,"lengthMM":300}]`))
		r.Get("/ssds", reply(`[]`))
		r.Get("/hdds", reply(`[]`))
		r.Get("/psus", reply(`[{"productId":"psu-750","price":89.9}]`))
		r.Get("/fans", reply(`[{"productId":"fan-120","price":32.95},{"productId":"fan/140","price":9.99}]`))
		r.Get("/motherboards/compatible", reply(`{"boards":[{"productId":"mb-b650","price":189}]}`))
		r.Get("/rams/compatible", reply(`{"rams":[{"productId":"ram-32","price":109}]}`))
		r.Get("/cases/compatible", reply(`{"cases":[{"productId":"case-mid","price":79}]}`))
		r.Post("/builds/verify", reply(`{"ok":true}`))
		r.Post("/builds", reply(`{"ok":true,"buildId":"b-1"}`))
		r.Get("/builds/{buildId}", func(w http.ResponseWriter, req *http.Request) {
			id, err := url.PathUnescape(chi.URLParam(req, "buildId"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			reply(`{"buildId":` + strconv.Quote(id) + `,"status":"draft","prices":{"subtotal":1125,"tax":0,"total":1125}}`)(w, req)
		})
		r.Post("/builds/{buildId}/submit", reply(`{"message":"Submitted for approval"}`))
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "router_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := sqlite.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	svc := application.NewBuilderService(catalogapi.New(fakeCatalogServer(t)), sqlite.NewBuildRepository(db))
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(NewRouter(svc, nil))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, in any, out any) int {
	t.Helper()
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestSessionBuildFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	var created application.SessionView
	if code := call(t, srv, http.MethodPost, "/api/sessions", nil, &created); code != http.StatusCreated {
		t.Fatalf("create session: status %d", code)
	}
	base := "/api/sessions/" + created.ID

	if code := call(t, srv, http.MethodPost, base+"/draft", nil, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 for unverified draft, got %d", code)
	}
	if code := call(t, srv, http.MethodPost, base+"/brand", map[string]string{"brand": "AMD"}, nil); code != http.StatusOK {
		t.Fatalf("select brand: status %d", code)
	}

	steps := []struct{ category, id string }{
		{"cpu", "amd-7600"},
		{"motherboard", "mb-b650"},
		{"ram", "ram-32"},
		{"gpu", "gpu-4070"},
		{"case", "case-mid"},
		{"psu", "psu-750"},
	}
	for _, step := range steps {
		var list application.CandidateList
		if code := call(t, srv, http.MethodGet, base+"/candidates/"+step.category+"?wait=1", nil, &list); code != http.StatusOK {
			t.Fatalf("candidates %s: status %d", step.category, code)
		}
		if len(list.Parts) == 0 {
			t.Fatalf("expected candidates for %s", step.category)
		}
		if code := call(t, srv, http.MethodPost, base+"/select", map[string]string{"category": step.category, "productId": step.id}, nil); code != http.StatusOK {
			t.Fatalf("select %s: status %d", step.category, code)
		}
	}
	var fans application.CandidateList
	call(t, srv, http.MethodGet, base+"/candidates/fans?wait=1", nil, &fans)
	if code := call(t, srv, http.MethodPost, base+"/fans", map[string]string{"productId": "fan-120"}, nil); code != http.StatusOK {
		t.Fatalf("add fan: status %d", code)
	}

	var view application.SessionView
	call(t, srv, http.MethodGet, base+"?wait=1", nil, &view)
	if view.State != application.StateCoreVerified {
		t.Fatalf("expected verified session, got %s", view.State)
	}
	if got := view.Totals.Total.String(); got != "1247.85" {
		t.Fatalf("unexpected total %s", got)
	}

	var draft domain.DraftBuild
	if code := call(t, srv, http.MethodPost, base+"/draft", nil, &draft); code != http.StatusCreated {
		t.Fatalf("save draft: status %d", code)
	}
	if draft.BuildID != "b-1" {
		t.Fatalf("unexpected draft %+v", draft)
	}

	var submitted map[string]string
	if code := call(t, srv, http.MethodPost, base+"/submit", nil, &submitted); code != http.StatusOK {
		t.Fatalf("submit: status %d", code)
	}
	if submitted["message"] != "Submitted for approval" {
		t.Fatalf("unexpected submit response %v", submitted)
	}

	var history domain.SessionHistory
	call(t, srv, http.MethodGet, base+"/history", nil, &history)
	if history.Session.State != string(application.StateSubmitted) || len(history.Drafts) != 1 || len(history.Verifications) != 1 {
		t.Fatalf("unexpected history %+v", history)
	}

	var build domain.BuildSnapshot
	if code := call(t, srv, http.MethodGet, "/api/builds/b-1", nil, &build); code != http.StatusOK || build.Status != "draft" {
		t.Fatalf("get build: status %d, %+v", code, build)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	if code := call(t, srv, http.MethodGet, "/api/sessions/missing", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", code)
	}

	var created application.SessionView
	call(t, srv, http.MethodPost, "/api/sessions", nil, &created)
	base := "/api/sessions/" + created.ID

	var health map[string]any
	if code := call(t, srv, http.MethodGet, "/healthz", nil, &health); code != http.StatusOK || health["sessions"] != float64(1) {
		t.Fatalf("unexpected health %d %v", code, health)
	}

	var errBody map[string]any
	if code := call(t, srv, http.MethodPost, base+"/select", map[string]string{"category": "monitor", "productId": "x"}, &errBody); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d", code)
	}
	if !strings.Contains(errBody["error"].(string), "unknown category") {
		t.Fatalf("unexpected error body %v", errBody)
	}
	if code := call(t, srv, http.MethodPost, base+"/select", map[string]string{"category": "cpu", "productId": "intel-1"}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid selection, got %d", code)
	}
	if code := call(t, srv, http.MethodPost, base+"/submit", nil, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 without a draft, got %d", code)
	}
	if code := call(t, srv, http.MethodDelete, base, nil, nil); code != http.StatusNoContent {
		t.Fatalf("close session: status %d", code)
	}
	if code := call(t, srv, http.MethodGet, base, nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected closed session to be gone, got %d", code)
	}

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(payload), "pcbuilder_sessions_active") {
		t.Fatalf("expected pcbuilder metrics, got status %d", resp.StatusCode)
	}
}

func TestPathParamsWithEscapedSlash(t *testing.T) {
	srv := newTestServer(t)

	var created application.SessionView
	call(t, srv, http.MethodPost, "/api/sessions", nil, &created)
	base := "/api/sessions/" + created.ID

	var fans application.CandidateList
	call(t, srv, http.MethodGet, base+"/candidates/fan?wait=1", nil, &fans)
	if code := call(t, srv, http.MethodPost, base+"/fans", map[string]string{"productId": "fan/140"}, nil); code != http.StatusOK {
		t.Fatalf("add fan: status %d", code)
	}

	var view application.SessionView
	if code := call(t, srv, http.MethodDelete, base+"/fans/"+url.PathEscape("fan/140"), nil, &view); code != http.StatusOK {
		t.Fatalf("remove fan: status %d", code)
	}
	if len(view.Selection.Fans) != 0 {
		t.Fatalf("expected fan/140 to be removed, got %+v", view.Selection.Fans)
	}

	var build domain.BuildSnapshot
	if code := call(t, srv, http.MethodGet, "/api/builds/"+url.PathEscape("b/1"), nil, &build); code != http.StatusOK {
		t.Fatalf("get build: status %d", code)
	}
	if build.BuildID != "b/1" {
		t.Fatalf("expected build id to reach the catalog decoded once, got %q", build.BuildID)
	}
}
