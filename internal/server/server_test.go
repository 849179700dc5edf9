package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"checkorder/internal/config"
	"checkorder/internal/db"
	"checkorder/internal/engine"
	"checkorder/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return engine.New(conn, cfg)
}

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	e := newTestEngine(t, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, Logger: zerolog.Nop()})
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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

type wireItem struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Text     string `json:"text"`
	Position struct {
		Key         json.Number `json:"key"`
		Archived    bool        `json:"archived"`
		Indentation int         `json:"indentation"`
	} `json:"position"`
	State struct {
		Checked bool `json:"checked"`
	} `json:"state"`
	Attrs map[string]any `json:"attrs"`
}

type wirePosition struct {
	Key         json.Number `json:"key"`
	Archived    bool        `json:"archived"`
	Indentation int         `json:"indentation"`
}

type wirePage struct {
	Items          []wireItem `json:"items"`
	Partition      string     `json:"partition"`
	TotalCount     int        `json:"total_count"`
	FlaggedCount   int        `json:"flagged_count"`
	UnflaggedCount int        `json:"unflagged_count"`
}

type wireError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, data []byte, out any) {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected %d, got %d: %s", status, res.StatusCode, string(data))
	}
	var env wireError
	decode(t, data, &env)
	if env.Error.Code != code {
		t.Fatalf("expected error code %q, got %q (%s)", code, env.Error.Code, string(data))
	}
}

func createItems(t *testing.T, srv *testServer, parentID string, texts ...string) []wireItem {
	t.Helper()
	var out []wireItem
	for _, text := range texts {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/parents/"+parentID+"/items", map[string]any{"text": text}, nil)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create %s: %d %s", text, res.StatusCode, string(data))
		}
		var it wireItem
		decode(t, data, &it)
		out = append(out, it)
	}
	return out
}

func listTexts(t *testing.T, srv *testServer, parentID string) ([]string, wirePage) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/parents/"+parentID+"/items", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var page wirePage
	decode(t, data, &page)
	texts := make([]string, 0, len(page.Items))
	for _, it := range page.Items {
		texts = append(texts, it.Text)
	}
	return texts, page
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateAndMoveItems(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	items := createItems(t, srv, "list-1", "milk", "eggs", "bread")
	for i, want := range []string{"0.4", "0.8", "1.2"} {
		if items[i].Position.Key.String() != want {
			t.Fatalf("item %d key %s, want %s", i, items[i].Position.Key, want)
		}
	}

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/parents/list-1/items/"+items[2].ID+"/move/above/"+items[0].ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move above: %d %s", res.StatusCode, string(data))
	}
	var pos wirePosition
	decode(t, data, &pos)
	if pos.Key.String() != "0" {
		t.Fatalf("move above first: key %s, want 0", pos.Key)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/parents/list-1/items/"+items[0].ID+"/move/bottom", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move bottom: %d %s", res.StatusCode, string(data))
	}
	decode(t, data, &pos)
	if pos.Key.String() != "1.2" {
		t.Fatalf("move bottom: key %s, want 1.2", pos.Key)
	}

	texts, page := listTexts(t, srv, "list-1")
	if !sameStrings(texts, []string{"bread", "eggs", "milk"}) {
		t.Fatalf("order = %v", texts)
	}
	if page.TotalCount != 3 || page.Partition != "checked" || page.UnflaggedCount != 3 {
		t.Fatalf("unexpected counters: %+v", page)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/parents/list-1/items/"+items[1].ID+"/state", map[string]any{"checked": true}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("check: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/parents/list-1/items?flag=false", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filtered list: %d %s", res.StatusCode, string(data))
	}
	decode(t, data, &page)
	if len(page.Items) != 2 || page.FlaggedCount != 1 || page.TotalCount != 3 {
		t.Fatalf("flag filter: %+v", page)
	}
}

func TestPositionKeyRoundTripsDigits(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	items := createItems(t, srv, "list-1", "a", "b")
	url := srv.URL + "/v0/parents/list-1/items/" + items[0].ID + "/position"

	long := "0.1000000000000000000000000000001"
	res, data := doJSON(t, client, http.MethodPatch, url, json.RawMessage(`{"key": `+long+`, "indentation": 2}`), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update position: %d %s", res.StatusCode, string(data))
	}
	var pos wirePosition
	decode(t, data, &pos)
	if pos.Key.String() != long || pos.Indentation != 2 {
		t.Fatalf("position = %+v, want key %s", pos, long)
	}

	res, data = doJSON(t, client, http.MethodGet, url, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get position: %d %s", res.StatusCode, string(data))
	}
	decode(t, data, &pos)
	if pos.Key.String() != long {
		t.Fatalf("stored key %s, want %s", pos.Key, long)
	}

	res, data = doJSON(t, client, http.MethodPatch, url, json.RawMessage(`{"key": "2.50"}`), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("string key: %d %s", res.StatusCode, string(data))
	}
	decode(t, data, &pos)
	if pos.Key.String() != "2.5" {
		t.Fatalf("string key stored as %s", pos.Key)
	}

	res, data = doJSON(t, client, http.MethodPatch, url, json.RawMessage(`{"key": null}`), nil)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodPatch, url, map[string]any{"key": items[1].Position.Key}, nil)
	expectError(t, res, data, http.StatusConflict, "key_conflict")
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	items := createItems(t, srv, "list-1", "a")
	other := createItems(t, srv, "list-2", "x")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/parents/list-1/items/missing", nil, nil)
	expectError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/parents/list-2/items/"+items[0].ID, nil, nil)
	expectError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/parents/list-1/items/"+items[0].ID+"/move/above/"+items[0].ID, nil, nil)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/parents/list-1/items/"+items[0].ID+"/move/below/"+other[0].ID, nil, nil)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/parents/list-1/items?partition=nope", nil, nil)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/parents/list-1/items/"+items[0].ID, map[string]any{
		"attrs": map[string]any{"tags": map[string]any{"x": true}},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set attrs: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/parents/list-1/items/"+items[0].ID, map[string]any{
		"attrs": map[string]any{"tags": []any{"x"}},
	}, nil)
	expectError(t, res, data, http.StatusBadRequest, "merge_shape_mismatch")

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/parents/list-1/items/"+items[0].ID, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/parents/list-1/items/"+items[0].ID, nil, nil)
	expectError(t, res, data, http.StatusNotFound, "not_found")
}

func TestBearerAuthWhenSecretConfigured(t *testing.T) {
	secret := "s3cret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret, Logger: zerolog.Nop()})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health must stay public: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/parents/list-1/items", map[string]any{"text": "a"}, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/parents/list-1/items", map[string]any{"text": "a"}, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	auth := map[string]string{"Authorization": "Bearer " + token}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/parents/list-1/items", map[string]any{"text": "a"}, auth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("authorized create: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events", nil, auth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var events paginatedEvents
	decode(t, data, &events)
	if len(events.Items) != 1 || events.Items[0].ActorID != "alice" {
		t.Fatalf("expected one event by alice, got %+v", events.Items)
	}
}

func TestEventsPaging(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	for _, text := range []string{"a", "b", "c"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/parents/list-1/items", map[string]any{"text": text}, map[string]string{"X-Actor-Id": "bob"})
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create: %d %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var first paginatedEvents
	decode(t, data, &first)
	if len(first.Items) != 2 || first.NextCursor == "" {
		t.Fatalf("first page: %+v", first)
	}
	if first.Items[0].Type != "item.created" || first.Items[0].ActorID != "bob" || first.Items[0].ParentID != "list-1" {
		t.Fatalf("unexpected event: %+v", first.Items[0])
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2&after="+first.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2: %d %s", res.StatusCode, string(data))
	}
	var second paginatedEvents
	decode(t, data, &second)
	if len(second.Items) != 1 || second.NextCursor != "" {
		t.Fatalf("second page: %+v", second)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?after=x", nil, nil)
	expectError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestCompactAndPreview(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	createItems(t, srv, "list-1", "a", "b", "c")
	createItems(t, srv, "list-2", "x", "y")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/parents/list-1/compact", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("compact: %d %s", res.StatusCode, string(data))
	}
	var compacted struct {
		Items []wireItem `json:"items"`
	}
	decode(t, data, &compacted)
	var keys []string
	for _, it := range compacted.Items {
		keys = append(keys, it.Position.Key.String())
	}
	if !sameStrings(keys, []string{"1", "5", "9"}) {
		t.Fatalf("compacted keys = %v", keys)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/preview?parent_ids=list-1,list-2&limit_per_parent=1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview: %d %s", res.StatusCode, string(data))
	}
	var preview struct {
		Parents map[string]wirePage `json:"parents"`
	}
	decode(t, data, &preview)
	if len(preview.Parents) != 2 {
		t.Fatalf("preview parents: %+v", preview.Parents)
	}
	if p := preview.Parents["list-1"]; len(p.Items) != 1 || p.Items[0].Text != "a" || p.TotalCount != 3 {
		t.Fatalf("list-1 preview: %+v", p)
	}
	if p := preview.Parents["list-2"]; len(p.Items) != 1 || p.TotalCount != 2 {
		t.Fatalf("list-2 preview: %+v", p)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/parents", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("parents: %d %s", res.StatusCode, string(data))
	}
	var parents struct {
		Items []string `json:"items"`
	}
	decode(t, data, &parents)
	if len(parents.Items) != 2 {
		t.Fatalf("parents = %v", parents.Items)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	decode(t, data, &doc)
	for _, p := range []string{
		"/v0/parents/{parent_id}/items",
		"/v0/parents/{parent_id}/items/{item_id}/move/above/{other_id}",
		"/v0/parents/{parent_id}/compact",
	} {
		if _, ok := doc.Paths[p]; !ok {
			t.Fatalf("openapi is missing %s", p)
		}
	}
}

func TestOpenAPIDocumentConcurrentFetch(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[0], bodies[i]) || len(bodies[i]) == 0 {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
}

type hookRecorder struct {
	mu     sync.Mutex
	fail   bool
	types  []string
	header http.Header
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	var evt webhookEvent
	_ = json.NewDecoder(r.Body).Decode(&evt)
	h.types = append(h.types, evt.Type)
	h.header = r.Header.Clone()
	w.WriteHeader(http.StatusNoContent)
}

func (h *hookRecorder) setFail(fail bool) {
	h.mu.Lock()
	h.fail = fail
	h.mu.Unlock()
}

func (h *hookRecorder) delivered() ([]string, http.Header) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.types...), h.header
}

func TestWebhookDispatcherDeliversFilteredEvents(t *testing.T) {
	rec := &hookRecorder{}
	hook := httptest.NewServer(rec)
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks.Enabled = true
	cfg.Webhooks.URL = hook.URL
	cfg.Webhooks.Events = []string{"item.moved"}
	e := newTestEngine(t, cfg)
	d := NewWebhookDispatcher(e, zerolog.Nop())
	if d == nil {
		t.Fatalf("dispatcher must be built when webhooks are enabled")
	}
	d.filter = newEventFilter(d.Events)

	ctx := context.Background()
	a, err := e.CreateItem(ctx, engine.CreateItemOptions{ParentID: "list-1", Text: "a", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.CreateItem(ctx, engine.CreateItemOptions{ParentID: "list-1", Text: "b", ActorID: "tester"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec.setFail(true)
	if _, err := e.MoveToBottom(ctx, "list-1", a.ID, "tester"); err != nil {
		t.Fatalf("move: %v", err)
	}
	d.dispatch(ctx)
	if types, _ := rec.delivered(); len(types) != 0 {
		t.Fatalf("nothing should be recorded while the hook fails: %v", types)
	}

	rec.setFail(false)
	d.dispatch(ctx)
	types, header := rec.delivered()
	if !sameStrings(types, []string{"item.moved"}) {
		t.Fatalf("delivered = %v", types)
	}
	if header.Get("X-Checkorder-Event") != "item.moved" || header.Get("X-Checkorder-Delivery") == "" {
		t.Fatalf("missing delivery headers: %v", header)
	}

	d.dispatch(ctx)
	if types, _ := rec.delivered(); len(types) != 1 {
		t.Fatalf("events must be delivered once: %v", types)
	}

	if NewWebhookDispatcher(newTestEngine(t, config.Default()), zerolog.Nop()) != nil {
		t.Fatalf("dispatcher must be nil when webhooks are disabled")
	}
}
