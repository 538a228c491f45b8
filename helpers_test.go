package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
)

// TestLogger wraps AppLogger for test use with testing.T integration
type TestLogger struct {
	*AppLogger
	t *testing.T
}

// NewTestLogger creates a test logger from environment variables
func NewTestLogger(t *testing.T) *TestLogger {
	config := LogConfig{
		OutputDir:   os.Getenv("TEST_OUTPUT_DIR"),
		LogRequests: os.Getenv("TEST_LOG_REQUESTS") == "1",
		LogDB:       os.Getenv("TEST_LOG_DB") == "1",
		LogWS:       os.Getenv("TEST_LOG_WS") == "1",
		Debug:       os.Getenv("TEST_DEBUG") == "1",
	}
	al, err := NewAppLogger(config)
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}
	al.debugf = func(format string, args ...any) {
		t.Logf("[DEBUG] "+format, args...)
	}
	return &TestLogger{AppLogger: al, t: t}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := loadEmbeddedRegistry()
	if err != nil {
		t.Fatalf("Failed to load embedded registry: %v", err)
	}
	return reg
}

// seatsFor seats the roles in order, seat 1 first.
func seatsFor(roles ...string) []SeatAssignment {
	seats := make([]SeatAssignment, len(roles))
	for i, id := range roles {
		seats[i] = SeatAssignment{Seat: i + 1, Name: fmt.Sprintf("P%d", i+1), RoleID: id}
	}
	return seats
}

// testNight drives a resolver the way devices would, one nonce per call.
type testNight struct {
	t     *testing.T
	r     *Resolver
	nonce uint64
}

func newTestNight(t *testing.T, roles ...string) *testNight {
	t.Helper()
	reg := testRegistry(t)
	plan, err := BuildNightPlan(reg, roles)
	if err != nil {
		t.Fatalf("BuildNightPlan failed: %v", err)
	}
	r, err := NewResolver(reg, plan, seatsFor(roles...))
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	if _, err := r.StartNight(); err != nil {
		t.Fatalf("StartNight failed: %v", err)
	}
	return &testNight{t: t, r: r}
}

// key is the step key of the open step, optionally naming a sub-step.
func (n *testNight) key(sub string) string {
	st, ok := n.r.plan.Step(n.r.State().StepIndex)
	if !ok {
		n.t.Fatalf("No open step (night complete: %v)", n.r.Complete())
	}
	return stepKey(n.r.Night(), st.Index, st.SchemaID, sub)
}

func (n *testNight) schema() string {
	st, _ := n.r.plan.Step(n.r.State().StepIndex)
	return st.SchemaID
}

func (n *testNight) submit(seat int, sub string, target ...int) Outcome {
	n.nonce++
	return n.r.Submit(Submission{Seat: seat, StepKey: n.key(sub), Target: target, Nonce: n.nonce})
}

func (n *testNight) skip(seat int, sub string) Outcome {
	n.nonce++
	return n.r.Submit(Submission{Seat: seat, StepKey: n.key(sub), Skip: true, Nonce: n.nonce})
}

func (n *testNight) ack(rv *RevealEvent) Outcome {
	if rv == nil {
		n.t.Fatalf("Expected a reveal to acknowledge")
	}
	return n.r.Acknowledge(Ack{Seat: rv.Seat, StepKey: rv.StepKey, SubmissionID: rv.SubmissionID})
}

// expectAccepted fails the test unless out was applied.
func (n *testNight) expectAccepted(out Outcome, what string) Outcome {
	n.t.Helper()
	if out.Rejection != nil {
		n.t.Fatalf("%s: expected accepted, got rejection %s", what, out.Rejection.Error())
	}
	if !out.Accepted {
		n.t.Fatalf("%s: expected accepted outcome", what)
	}
	return out
}

func (n *testNight) expectStep(schemaID string) {
	n.t.Helper()
	if got := n.schema(); got != schemaID {
		n.t.Fatalf("Expected open step %s, got %s", schemaID, got)
	}
}

type TestContext struct {
	t       *testing.T
	logger  *TestLogger
	server  *httptest.Server
	baseURL string
	wsURL   string
	cleanup func()
}

// newTestContext creates a host with a fresh database, hub and room set,
// served by httptest.
func newTestContext(t *testing.T) *TestContext {
	logger := NewTestLogger(t)
	appLogger = logger.AppLogger

	var err error
	db, err = sqlx.Connect("sqlite3", filepath.Join(t.TempDir(), "werewolfnight.db"))
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := initDB(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	logger.LogDB("after initDB")

	registry = testRegistry(t)
	appConfig = defaultConfig()
	globalStoryteller = nil

	hub = newHub()
	rooms = newRoomManager()
	go hub.run()

	server := httptest.NewServer(routes(logger.AppLogger))
	logger.Debug("Test host listening on %s", server.URL)

	cleanup := func() {
		logger.LogDB("before cleanup")
		logger.Debug("Cleaning up test host")
		server.Close()
		rooms.stopAll()
		hub.stop()
		db.Close()
		logger.Close()
		appLogger = nil
	}

	return &TestContext{
		t:       t,
		logger:  logger,
		server:  server,
		baseURL: server.URL,
		wsURL:   "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		cleanup: cleanup,
	}
}

// do sends a JSON request with an optional bearer token and decodes the
// response into out when it is non-nil.
func (tc *TestContext) do(method, path, token string, body any, out any) int {
	tc.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			tc.t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, tc.baseURL+path, reader)
	if err != nil {
		tc.t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := tc.server.Client().Do(req)
	if err != nil {
		tc.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			tc.t.Fatalf("Failed to decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (tc *TestContext) createRoom(req createRoomRequest) createRoomResponse {
	tc.t.Helper()
	var resp createRoomResponse
	if status := tc.do(http.MethodPost, "/rooms", "", req, &resp); status != http.StatusCreated {
		tc.t.Fatalf("Expected 201 creating room, got %d", status)
	}
	return resp
}

// testDevice is a raw websocket seat that records every frame it receives.
type testDevice struct {
	t    *testing.T
	seat int
	conn *websocket.Conn

	mu     sync.Mutex
	frames []Envelope
	notify chan struct{}
}

func (tc *TestContext) connect(seat int, token string) *testDevice {
	tc.t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(tc.wsURL, header)
	if err != nil {
		tc.t.Fatalf("Seat %d failed to connect: %v", seat, err)
	}
	d := &testDevice{t: tc.t, seat: seat, conn: conn, notify: make(chan struct{}, 1)}
	go d.read()
	return d
}

func (d *testDevice) read() {
	for {
		_, message, err := d.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		d.mu.Lock()
		d.frames = append(d.frames, env)
		d.mu.Unlock()
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
}

func (d *testDevice) send(env Envelope) {
	d.t.Helper()
	if err := d.conn.WriteJSON(env); err != nil {
		d.t.Fatalf("Seat %d failed to send %s: %v", d.seat, env.Type, err)
	}
}

// waitFor returns the first received frame matching match, waiting up to
// two seconds.
func (d *testDevice) waitFor(what string, match func(Envelope) bool) Envelope {
	d.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		d.mu.Lock()
		for _, env := range d.frames {
			if match(env) {
				d.mu.Unlock()
				return env
			}
		}
		d.mu.Unlock()
		select {
		case <-d.notify:
		case <-ctx.Done():
			d.t.Fatalf("Seat %d: timed out waiting for %s", d.seat, what)
			return Envelope{}
		}
	}
}

// waitSnapshot waits for a snapshot matching match.
func (d *testDevice) waitSnapshot(what string, match func(Snapshot) bool) Snapshot {
	d.t.Helper()
	env := d.waitFor(what, func(env Envelope) bool {
		return env.Type == MsgSnapshot && env.Snapshot != nil && match(*env.Snapshot)
	})
	return *env.Snapshot
}

// received reports every frame of the given type seen so far.
func (d *testDevice) received(msgType string) []Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Envelope
	for _, env := range d.frames {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (d *testDevice) close() {
	d.conn.Close()
}

// mockStoryteller returns a fixed narration in a few chunks.
type mockStoryteller struct {
	text string
}

func (m *mockStoryteller) Tell(ctx context.Context, history []string, onChunk func(string)) (string, error) {
	for _, word := range strings.Fields(m.text) {
		onChunk(word + " ")
	}
	return m.text, nil
}
