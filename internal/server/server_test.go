package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/migrate"
	"gigline/internal/stream"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default("gigline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	hub := stream.NewHub(cfg.Stream.Buffer)
	e.Notifier = hub
	handler, err := New(Config{
		Engine:   e,
		Hub:      hub,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
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
		Engine: e,
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

func asOwner() map[string]string  { return map[string]string{"X-Actor-Id": "owner-1"} }
func asWorker() map[string]string { return map[string]string{"X-Actor-Id": "worker-1"} }

// seedConversation registers a job and proposal and opens the conversation.
func seedConversation(t *testing.T, srv *testServer) string {
	t.Helper()
	client := srv.Client()
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"id": "job-1", "owner_id": "owner-1", "kind": "online", "title": "Build a site",
	}, asOwner())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register job status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/proposals", map[string]any{
		"id": "prop-1", "job_id": "job-1", "owner_id": "worker-1", "cover_note": "hi",
	}, asWorker())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register proposal status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations", map[string]any{
		"job_id": "job-1", "proposal_id": "prop-1", "job_owner_id": "owner-1", "proposal_owner_id": "worker-1",
	}, asOwner())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("open conversation status %d: %s", res.StatusCode, string(body))
	}
	var conv domain.Conversation
	if err := json.Unmarshal(body, &conv); err != nil {
		t.Fatalf("unmarshal conversation: %v", err)
	}
	return conv.ID
}

func TestNegotiationFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	convID := seedConversation(t, srv)

	// worker blocked by the permission gate
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations/"+convID+"/messages", map[string]any{
		"content": "hello?",
	}, asWorker())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before opening, got %d: %s", res.StatusCode, string(body))
	}

	// owner opens
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations/"+convID+"/messages", map[string]any{
		"content": "hi, saw your proposal",
	}, asOwner())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("owner send status %d: %s", res.StatusCode, string(body))
	}

	// worker proposes
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations/"+convID+"/agreement", map[string]any{
		"start_date": "2024-02-01", "end_date": "2024-03-01",
		"payment_amount": 500, "payment_method": "bank_transfer", "payment_structure": "milestone",
	}, asWorker())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("propose status %d: %s", res.StatusCode, string(body))
	}
	var agreement domain.Agreement
	if err := json.Unmarshal(body, &agreement); err != nil {
		t.Fatalf("unmarshal agreement: %v", err)
	}

	// self-confirm rejected
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agreements/"+agreement.ID+"/confirm", nil, asWorker())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 self-confirm, got %d: %s", res.StatusCode, string(body))
	}

	// owner confirms
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/agreements/"+agreement.ID+"/confirm", nil, asOwner())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm status %d: %s", res.StatusCode, string(body))
	}

	// milestone within budget
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations/"+convID+"/milestones", map[string]any{
		"title": "design", "amount": 300,
	}, asOwner())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create milestone status %d: %s", res.StatusCode, string(body))
	}
	var milestone domain.Milestone
	_ = json.Unmarshal(body, &milestone)

	// over budget -> 422 with the envelope
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations/"+convID+"/milestones", map[string]any{
		"title": "too big", "amount": 250,
	}, asOwner())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 over budget, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "budget_exceeded" {
		t.Fatalf("expected budget_exceeded, got %q", envelope.Error.Code)
	}

	// transition out of order -> 409
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/"+milestone.ID+"/complete", nil, asWorker())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 invalid transition, got %d: %s", res.StatusCode, string(body))
	}

	// worker walks the lifecycle
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/"+milestone.ID+"/accept", nil, asWorker())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/"+milestone.ID+"/complete", nil, asWorker())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/"+milestone.ID+"/release", map[string]any{
		"proof_ref": "receipt-1.png",
	}, asOwner())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("release status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/milestones/"+milestone.ID+"/confirm-received", nil, asWorker())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm received status %d: %s", res.StatusCode, string(body))
	}
	var final domain.Milestone
	if err := json.Unmarshal(body, &final); err != nil {
		t.Fatalf("unmarshal milestone: %v", err)
	}
	if final.Status != domain.MilestoneReceived {
		t.Fatalf("expected payment_received, got %s", final.Status)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/conversations", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected health open, got %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/keys", map[string]any{
		"actor_id": "owner-1", "name": "ci",
	}, asOwner())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(body))
	}
	var key KeyResponse
	if err := json.Unmarshal(body, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatalf("expected plaintext key in create response")
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/conversations", nil, map[string]string{
		"X-Api-Key": key.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d: %s", res.StatusCode, string(body))
	}

	// listing never returns the plaintext
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/keys", nil, asOwner())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list keys status %d: %s", res.StatusCode, string(body))
	}
	var keys []KeyResponse
	_ = json.Unmarshal(body, &keys)
	if len(keys) != 1 || keys[0].Key != "" {
		t.Fatalf("expected one key without plaintext, got %+v", keys)
	}
}

func TestErrorEnvelopeNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/conversations/nope", nil, asOwner())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", envelope.Error.Code)
	}
}

func TestErrorEnvelopeValidationAndConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	convID := seedConversation(t, srv)

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations/"+convID+"/messages", map[string]any{
		"content": "hi",
	}, asOwner())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("open status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations/"+convID+"/agreement", map[string]any{
		"start_date": "2024-02-01", "end_date": "2024-03-01",
		"payment_amount": 500, "payment_method": "bank_transfer", "payment_structure": "milestone",
	}, asOwner())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("propose status %d: %s", res.StatusCode, string(body))
	}

	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	// malformed input -> 400 bad_request
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations/"+convID+"/milestones", map[string]any{
		"title": "free work", "amount": 0,
	}, asOwner())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero amount, got %d: %s", res.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "bad_request" {
		t.Fatalf("expected bad_request, got %q (%v)", envelope.Error.Code, err)
	}

	// agreement still only proposed -> 409 agreement_not_confirmed
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations/"+convID+"/milestones", map[string]any{
		"title": "design", "amount": 100,
	}, asOwner())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before confirmation, got %d: %s", res.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "agreement_not_confirmed" {
		t.Fatalf("expected agreement_not_confirmed, got %q (%v)", envelope.Error.Code, err)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	convID := seedConversation(t, srv)
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/conversations/"+convID+"/messages", map[string]any{
		"content": "hello",
	}, asOwner())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("send status %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?conversation_id="+convID, nil, asOwner())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var page paginatedEvents
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) < 2 {
		t.Fatalf("expected creation and message events, got %d", len(page.Items))
	}
}
