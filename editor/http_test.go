package editor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/protoboard/prototype"
	"github.com/hazyhaar/protoboard/session"
)

func newRouter(t *testing.T) (*testEnv, chi.Router) {
	t.Helper()
	env := newTestEnv(t)
	r := chi.NewRouter()
	env.eng.RegisterHTTP(r)
	return env, r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeInfo(t *testing.T, rec *httptest.ResponseRecorder) Info {
	t.Helper()
	var info Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	return info
}

func TestHTTP_Healthz(t *testing.T) {
	_, r := newRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/healthz", "")
	if rec.Code != 200 {
		t.Fatalf("got status %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("status = %q", resp["status"])
	}
}

func TestHTTP_OpenSession(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1", "home"))

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions", `{"prototype_id":"p1"}`)
	if rec.Code != 201 {
		t.Fatalf("got status %d, body: %s", rec.Code, rec.Body.String())
	}
	info := decodeInfo(t, rec)
	if !strings.HasPrefix(info.ID, "sess_") {
		t.Fatalf("ID = %q", info.ID)
	}
	if info.Session.Status != session.StatusReady || info.PageID != "home" {
		t.Fatalf("status/page = %q/%q", info.Session.Status, info.PageID)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+info.ID, "")
	if rec.Code != 200 {
		t.Fatalf("get: status %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/sessions", "")
	if rec.Code != 200 {
		t.Fatalf("list: status %d", rec.Code)
	}
	var list []Info
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != info.ID {
		t.Fatalf("list = %+v", list)
	}
}

func TestHTTP_OpenFailureStillCreatesSession(t *testing.T) {
	env, r := newRouter(t)
	env.store.getErr = errors.New("storage exploded")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions", `{"prototype_id":"p1"}`)
	if rec.Code != 201 {
		t.Fatalf("got status %d, body: %s", rec.Code, rec.Body.String())
	}
	info := decodeInfo(t, rec)
	if info.Session.Status != session.StatusError || info.Session.Error == "" {
		t.Fatalf("error not surfaced in state: %+v", info.Session)
	}
}

func TestHTTP_CreateSession(t *testing.T) {
	_, r := newRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions", `{"name":"landing"}`)
	if rec.Code != 201 {
		t.Fatalf("got status %d, body: %s", rec.Code, rec.Body.String())
	}
	info := decodeInfo(t, rec)
	if info.PrototypeID == "" {
		t.Fatal("PrototypeID empty")
	}
}

func TestHTTP_OpenRequiresIDOrName(t *testing.T) {
	_, r := newRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions", `{}`)
	if rec.Code != 400 {
		t.Fatalf("got status %d", rec.Code)
	}
	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if !strings.Contains(resp["error"], "prototype_id or name") {
		t.Fatalf("error = %q", resp["error"])
	}
}

func TestHTTP_ChangesAndSave(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1"))
	info, _ := env.eng.Open(context.Background(), "p1")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/changes", `{"shapes":[1]}`)
	if rec.Code != 202 {
		t.Fatalf("changes: status %d, body: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/save", "")
	if rec.Code != 200 {
		t.Fatalf("save: status %d, body: %s", rec.Code, rec.Body.String())
	}
	saved := decodeInfo(t, rec)
	if saved.Session.Dirty {
		t.Fatal("still dirty after save")
	}
	if env.store.putCount() != 1 {
		t.Fatalf("puts = %d", env.store.putCount())
	}
}

func TestHTTP_ChangesRejectInvalidJSON(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1"))
	info, _ := env.eng.Open(context.Background(), "p1")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/changes", `{oops`)
	if rec.Code != 400 {
		t.Fatalf("got status %d", rec.Code)
	}
}

func TestHTTP_UnknownSessionIs404(t *testing.T) {
	_, r := newRouter(t)

	for _, req := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/sessions/sess_nope", ""},
		{http.MethodPost, "/api/v1/sessions/sess_nope/changes", `{}`},
		{http.MethodPost, "/api/v1/sessions/sess_nope/save", ""},
		{http.MethodDelete, "/api/v1/sessions/sess_nope", ""},
	} {
		rec := doJSON(t, r, req.method, req.path, req.body)
		if rec.Code != 404 {
			t.Fatalf("%s %s: status %d", req.method, req.path, rec.Code)
		}
	}
}

func TestHTTP_SaveNotReadyIs409(t *testing.T) {
	env, r := newRouter(t)
	env.store.getErr = errors.New("boom")
	info, _ := env.eng.Open(context.Background(), "p1")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/save", "")
	if rec.Code != 409 {
		t.Fatalf("got status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTP_SaveUnavailableIs503(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1"))
	info, _ := env.eng.Open(context.Background(), "p1")
	env.store.putErr = prototype.ErrUnavailable

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/save", "")
	if rec.Code != 503 {
		t.Fatalf("got status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTP_SwitchPage(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1", "home", "about"))
	info, _ := env.eng.Open(context.Background(), "p1")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/switch-page", `{"page_id":"about"}`)
	if rec.Code != 200 {
		t.Fatalf("got status %d, body: %s", rec.Code, rec.Body.String())
	}
	if moved := decodeInfo(t, rec); moved.PageID != "about" {
		t.Fatalf("PageID = %q", moved.PageID)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/switch-page", `{"page_id":"ghost"}`)
	if rec.Code != 404 {
		t.Fatalf("unknown page: status %d", rec.Code)
	}
}

func TestHTTP_Restore(t *testing.T) {
	env, r := newRouter(t)
	doc := proto("p1")
	doc.Version = 3
	env.store.add(doc)
	info, _ := env.eng.Open(context.Background(), "p1")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/restore", `{"version":0}`)
	if rec.Code != 400 {
		t.Fatalf("zero version: status %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/restore", `{"version":1}`)
	if rec.Code != 200 {
		t.Fatalf("got status %d, body: %s", rec.Code, rec.Body.String())
	}
	if restored := decodeInfo(t, rec); restored.Session.Document.Version != 1 {
		t.Fatalf("Version = %d", restored.Session.Document.Version)
	}
}

func TestHTTP_SetAutosave(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1"))
	info, _ := env.eng.Open(context.Background(), "p1")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/autosave", `{"enabled":false}`)
	if rec.Code != 200 {
		t.Fatalf("got status %d", rec.Code)
	}
	if got := decodeInfo(t, rec); got.Autosave.Enabled {
		t.Fatal("autosave still enabled")
	}
}

func TestHTTP_Versions(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1"))
	env.store.history["p1"] = []prototype.VersionInfo{{Version: 1}, {Version: 2}}
	info, _ := env.eng.Open(context.Background(), "p1")

	rec := doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+info.ID+"/versions", "")
	if rec.Code != 200 {
		t.Fatalf("got status %d", rec.Code)
	}
	var versions []prototype.VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&versions); err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 {
		t.Fatalf("versions = %+v", versions)
	}
}

func TestHTTP_Draft(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1"))

	first, _ := env.eng.Open(context.Background(), "p1")
	rec := doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+first.ID+"/draft", "")
	if rec.Code != 404 {
		t.Fatalf("no draft: status %d", rec.Code)
	}

	// A dirty close leaves a draft; the next session adopts and serves it.
	env.eng.Change(first.ID, json.RawMessage(`{"unsaved":true}`))
	env.eng.Close(context.Background(), first.ID)
	second, _ := env.eng.Open(context.Background(), "p1")

	rec = doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+second.ID+"/draft", "")
	if rec.Code != 200 {
		t.Fatalf("got status %d, body: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		SessionID string          `json:"session_id"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != second.ID || string(resp.Data) != `{"unsaved":true}` {
		t.Fatalf("draft = %+v", resp)
	}
}

func TestHTTP_SyncRequiresHost(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1"))
	info, _ := env.eng.Open(context.Background(), "p1")

	rec := doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/sync", `{"task":"zoom"}`)
	if rec.Code != 400 {
		t.Fatalf("missing fields: status %d", rec.Code)
	}

	body := `{"task":"zoom","selector":"[data-zoom]","property":"value","value":"150%"}`
	rec = doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+info.ID+"/sync", body)
	if rec.Code != 409 {
		t.Fatalf("no host: status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func TestHTTP_CloseSession(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1"))
	info, _ := env.eng.Open(context.Background(), "p1")

	rec := doJSON(t, r, http.MethodDelete, "/api/v1/sessions/"+info.ID, "")
	if rec.Code != 200 {
		t.Fatalf("got status %d", rec.Code)
	}
	rec = doJSON(t, r, http.MethodDelete, "/api/v1/sessions/"+info.ID, "")
	if rec.Code != 404 {
		t.Fatalf("second close: status %d", rec.Code)
	}
}

func TestHTTP_Stats(t *testing.T) {
	env, r := newRouter(t)
	env.store.add(proto("p1"))
	env.eng.Open(context.Background(), "p1")

	rec := doJSON(t, r, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != 200 {
		t.Fatalf("got status %d", rec.Code)
	}
	var st Stats
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Sessions != 1 {
		t.Fatalf("Sessions = %d", st.Sessions)
	}
}
