package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"actionboard/internal/catalog"
	"actionboard/internal/config"
	"actionboard/internal/db"
	"actionboard/internal/domain"
	"actionboard/internal/engine"
	"actionboard/internal/events"
	"actionboard/internal/favorites"
	"actionboard/internal/metrics"
	"actionboard/internal/migrate"
	"actionboard/internal/repo"
)

type testServer struct {
	URL    string
	favs   *favorites.MemoryService
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func testCategory(id, name string, n int) domain.ActionCategory {
	c := domain.ActionCategory{ID: id, Name: name, Key: id}
	for i := 1; i <= n; i++ {
		c.Actions = append(c.Actions, domain.Action{ID: fmt.Sprintf("%s-%d", id, i), Name: fmt.Sprintf("%s %d", name, i), ImpactScale: 5})
	}
	return c
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cat, err := catalog.New([]domain.ActionCategory{
		testCategory("teamwork", "Teamwork", 5),
		testCategory("communication", "Communication", 3),
		testCategory("reliability", "Reliability", 3),
		testCategory("planning", "Planning", 2),
	}, cfg)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	now := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	store := repo.Repo{DB: conn, Events: events.Writer{Now: now}, Now: now}
	reg := prometheus.NewRegistry()
	favs := favorites.NewMemoryService()
	e := engine.New(cat, favs, store, cfg, nil, metrics.New(reg))
	sessions := engine.NewRegistry(e)
	handler, err := New(Config{
		Registry:      sessions,
		History:       store,
		Organizations: store,
		BasePath:      "/v0",
		Gatherer:      reg,
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
		favs:   favs,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			sessions.CloseAll()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
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

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("expected status %d, got %d: %s", want, res.StatusCode, string(data))
	}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func openSession(t *testing.T, srv *testServer) engine.View {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{})
	expectStatus(t, res, data, http.StatusCreated)
	var view engine.View
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.SessionID == "" || view.Step != "organization" {
		t.Fatalf("unexpected session view: %+v", view)
	}
	return view
}

func TestHealthAndCatalog(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil)
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/catalog", nil)
	expectStatus(t, res, data, http.StatusOK)
	var cat CatalogResponse
	if err := json.Unmarshal(data, &cat); err != nil {
		t.Fatalf("unmarshal catalog: %v", err)
	}
	if len(cat.Categories) != 4 {
		t.Fatalf("expected 4 categories, got %d", len(cat.Categories))
	}
	if !cat.Categories[0].Mandatory || cat.Categories[3].Mandatory {
		t.Fatalf("unexpected mandatory flags: %+v", cat.Categories)
	}
}

func TestAdvanceWithoutOrganizationNameRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	view := openSession(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/"+view.SessionID+"/wizard/advance", nil)
	expectStatus(t, res, data, http.StatusUnprocessableEntity)
	apiErr := decodeError(t, data)
	if apiErr.Code != "validation_failed" || apiErr.Details["rule"] != "organization.name" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestDeselectBelowMinimumConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	view := openSession(t, srv)
	base := srv.URL + "/v0/sessions/" + view.SessionID

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/categories/teamwork/toggle-all", map[string]any{"checked": true})
	expectStatus(t, res, data, http.StatusOK)
	for _, id := range []string{"teamwork-1", "teamwork-2"} {
		res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/actions/toggle", map[string]any{
			"category_id": "teamwork",
			"action_id":   id,
		})
		expectStatus(t, res, data, http.StatusOK)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/actions/toggle", map[string]any{
		"category_id": "teamwork",
		"action_id":   "teamwork-3",
	})
	expectStatus(t, res, data, http.StatusConflict)
	if apiErr := decodeError(t, data); apiErr.Code != "constraint_violation" {
		t.Fatalf("expected constraint_violation, got %+v", apiErr)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), "actionboard_constraint_violations_total") {
		t.Fatalf("expected constraint counter in metrics output")
	}
}

func TestFavoriteRequiresSelection(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	view := openSession(t, srv)
	base := srv.URL + "/v0/sessions/" + view.SessionID

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/favorites", map[string]any{
		"category_id": "planning",
		"action_id":   "planning-1",
	})
	expectStatus(t, res, data, http.StatusConflict)
	if apiErr := decodeError(t, data); apiErr.Code != "not_selected" {
		t.Fatalf("expected not_selected, got %+v", apiErr)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/actions/toggle", map[string]any{
		"category_id": "planning",
		"action_id":   "planning-1",
	})
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/favorites", map[string]any{
		"category_id": "planning",
		"action_id":   "planning-1",
	})
	expectStatus(t, res, data, http.StatusOK)
	var got engine.View
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if favs := got.Favorites["planning"]; len(favs) != 1 || favs[0] != "planning-1" {
		t.Fatalf("expected planning-1 favorite, got %v", got.Favorites)
	}
}

func TestFavoriteServiceFailureLeavesFlagUnchanged(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	view := openSession(t, srv)
	base := srv.URL + "/v0/sessions/" + view.SessionID

	res, data := doJSON(t, srv.Client(), http.MethodPost, base+"/actions/toggle", map[string]any{
		"category_id": "planning",
		"action_id":   "planning-1",
	})
	expectStatus(t, res, data, http.StatusOK)

	srv.favs.SetFailure(fmt.Errorf("favorites service down"))
	res, data = doJSON(t, srv.Client(), http.MethodPost, base+"/favorites", map[string]any{
		"category_id": "planning",
		"action_id":   "planning-1",
		"is_favorite": true,
	})
	expectStatus(t, res, data, http.StatusOK)
	var got engine.View
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if len(got.Favorites["planning"]) != 0 {
		t.Fatalf("expected no favorites after failed toggle, got %v", got.Favorites)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `actionboard_remote_sync_errors_total{operation="favorite.toggle"} 1`) {
		t.Fatalf("expected favorite.toggle remote sync error in metrics output")
	}
}

func TestUnknownSessionNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/missing", nil)
	expectStatus(t, res, data, http.StatusNotFound)
	apiErr := decodeError(t, data)
	if apiErr.Code != "not_found" || apiErr.Details["kind"] != "session" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestCompleteFlowAndSubmit(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	view := openSession(t, srv)
	base := srv.URL + "/v0/sessions/" + view.SessionID

	step := func(method, url string, body any, want int) []byte {
		t.Helper()
		res, data := doJSON(t, client, method, url, body)
		expectStatus(t, res, data, want)
		return data
	}

	step(http.MethodPut, base+"/organization", map[string]any{"name": "Acme"}, http.StatusOK)
	step(http.MethodPost, base+"/wizard/advance", nil, http.StatusOK)
	for _, c := range []string{"teamwork", "communication", "reliability"} {
		step(http.MethodPost, base+"/categories/"+c+"/toggle-all", map[string]any{"checked": true}, http.StatusOK)
	}
	step(http.MethodPost, base+"/wizard/advance", nil, http.StatusOK)
	step(http.MethodPost, base+"/wizard/advance", nil, http.StatusOK)

	var member MemberCreatedResponse
	data := step(http.MethodPost, base+"/members", map[string]any{"full_name": "Ada Lovelace", "email": "ada@example.com"}, http.StatusCreated)
	if err := json.Unmarshal(data, &member); err != nil {
		t.Fatalf("unmarshal member: %v", err)
	}
	step(http.MethodPost, base+"/wizard/advance", nil, http.StatusOK)

	var team TeamCreatedResponse
	data = step(http.MethodPost, base+"/teams", map[string]any{"name": "Core"}, http.StatusCreated)
	if err := json.Unmarshal(data, &team); err != nil {
		t.Fatalf("unmarshal team: %v", err)
	}
	teamURL := base + "/teams/" + team.Team.ID
	step(http.MethodPost, teamURL+"/categories", map[string]any{"category_id": "teamwork", "checked": true}, http.StatusOK)
	step(http.MethodPost, teamURL+"/members", map[string]any{"member_id": member.Member.ID, "checked": true}, http.StatusOK)

	var other TeamCreatedResponse
	data = step(http.MethodPost, base+"/teams", map[string]any{"name": "Edge"}, http.StatusCreated)
	if err := json.Unmarshal(data, &other); err != nil {
		t.Fatalf("unmarshal team: %v", err)
	}
	data = step(http.MethodPost, base+"/teams/"+other.Team.ID+"/members", map[string]any{"member_id": member.Member.ID, "checked": true}, http.StatusConflict)
	if apiErr := decodeError(t, data); apiErr.Code != "assignment_conflict" {
		t.Fatalf("expected assignment_conflict, got %+v", apiErr)
	}
	step(http.MethodDelete, base+"/teams/"+other.Team.ID, nil, http.StatusOK)
	step(http.MethodPost, base+"/wizard/advance", nil, http.StatusOK)

	var submitted SubmitResponse
	data = step(http.MethodPost, base+"/submit", nil, http.StatusOK)
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if submitted.Snapshot.Organization.Name != "Acme" || len(submitted.Snapshot.Teams) != 1 {
		t.Fatalf("unexpected snapshot: %+v", submitted.Snapshot)
	}
	if submitted.Session.CommittedAt == "" {
		t.Fatalf("expected committed_at on session view")
	}

	var evts paginatedEvents
	data = step(http.MethodGet, srv.URL+"/v0/events?type="+events.TypeCommitted, nil, http.StatusOK)
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts.Items) != 1 || evts.Items[0].OrgID != submitted.Snapshot.Organization.ID {
		t.Fatalf("unexpected events: %+v", evts)
	}

	var orgs organizationList
	data = step(http.MethodGet, srv.URL+"/v0/organizations", nil, http.StatusOK)
	if err := json.Unmarshal(data, &orgs); err != nil {
		t.Fatalf("unmarshal organizations: %v", err)
	}
	if len(orgs.Items) != 1 || orgs.Items[0].Teams != 1 || orgs.Items[0].Members != 1 {
		t.Fatalf("unexpected organizations: %+v", orgs.Items)
	}

	step(http.MethodDelete, base, nil, http.StatusNoContent)
	step(http.MethodGet, base, nil, http.StatusNotFound)
}

func TestEventsRejectsBadCursor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil)
	expectStatus(t, res, data, http.StatusBadRequest)
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil)
	expectStatus(t, res, data, http.StatusOK)
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	for _, p := range []string{"/v0/sessions", "/v0/sessions/{session_id}/submit", "/v0/events"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Fatalf("missing path %s in openapi document", p)
		}
	}
}

func TestOpenAPIDocumentConcurrentRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const n = 8
	type result struct {
		status int
		body   []byte
		err    error
	}
	results := make(chan result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				results <- result{err: err}
				return
			}
			defer res.Body.Close()
			body, err := io.ReadAll(res.Body)
			results <- result{status: res.StatusCode, body: body, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var first []byte
	for r := range results {
		if r.err != nil {
			t.Fatalf("request: %v", r.err)
		}
		if r.status != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", r.status, string(r.body))
		}
		if first == nil {
			first = r.body
			continue
		}
		if !bytes.Equal(first, r.body) {
			t.Fatalf("openapi document differs between requests")
		}
	}
}
