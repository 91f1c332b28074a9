package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pkt.systems/sessionlink/schema"
)

// fakeTransport is a scripted in-memory transport. Reads block on the
// inbound channel until the transport closes.
type fakeTransport struct {
	mu         sync.Mutex
	sent       []schema.Envelope
	failWrites bool
	inbound    chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case <-t.closed:
		return nil, errors.New("transport closed")
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWrites {
		return errors.New("write failed")
	}
	env, err := schema.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	t.sent = append(t.sent, env)
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) setFailWrites(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failWrites = fail
}

func (t *fakeTransport) sentFrames() []schema.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]schema.Envelope(nil), t.sent...)
}

func (t *fakeTransport) sentOfType(msgType schema.MessageType) []schema.Envelope {
	var frames []schema.Envelope
	for _, env := range t.sentFrames() {
		if env.Type == msgType {
			frames = append(frames, env)
		}
	}
	return frames
}

// deliver feeds a frame to the connection as if the server sent it.
func (t *fakeTransport) deliver(tb testing.TB, msgType schema.MessageType, body any) {
	tb.Helper()
	env, err := schema.NewEnvelope(msgType, body)
	if err != nil {
		tb.Fatalf("new envelope: %v", err)
	}
	frame, err := env.Encode()
	if err != nil {
		tb.Fatalf("encode: %v", err)
	}
	select {
	case t.inbound <- frame:
	case <-time.After(time.Second):
		tb.Fatalf("deliver blocked")
	}
}

// fakeDialer hands out fakeTransports and can be scripted to fail.
type fakeDialer struct {
	mu         sync.Mutex
	failNext   int
	failAlways bool
	dials      int
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint schema.Endpoint) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failAlways {
		return nil, errors.New("dial refused")
	}
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("dial refused")
	}
	transport := newFakeTransport()
	d.transports = append(d.transports, transport)
	return transport, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) transportAt(index int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.transports) {
		return nil
	}
	return d.transports[index]
}

func (d *fakeDialer) lastTransport() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// fakeStore is an in-memory membership store.
type fakeStore struct {
	mu       sync.Mutex
	records  map[schema.Endpoint][]schema.ProjectID
	failSave bool
	saves    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[schema.Endpoint][]schema.ProjectID)}
}

func (s *fakeStore) LoadMembership(endpoint schema.Endpoint) ([]schema.ProjectID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	projects, ok := s.records[endpoint]
	return append([]schema.ProjectID(nil), projects...), ok, nil
}

func (s *fakeStore) SaveMembership(endpoint schema.Endpoint, projects []schema.ProjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.failSave {
		return errors.New("save failed")
	}
	s.records[endpoint] = append([]schema.ProjectID(nil), projects...)
	return nil
}

// recordSink records events for assertions.
type recordSink struct {
	mu       sync.Mutex
	statuses []schema.StatusEvent
	errors   []schema.ErrorEvent
	requests []schema.RequestEvent
}

func (s *recordSink) OnStatus(event schema.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, event)
}

func (s *recordSink) OnError(event schema.ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, event)
}

func (s *recordSink) OnRequest(event schema.RequestEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, event)
}

func (s *recordSink) statusEvents() []schema.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.StatusEvent(nil), s.statuses...)
}

func (s *recordSink) errorEvents() []schema.ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.ErrorEvent(nil), s.errors...)
}

func (s *recordSink) requestEvents() []schema.RequestEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.RequestEvent(nil), s.requests...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(tb testing.TB, timeout time.Duration, message string, cond func() bool) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("timed out waiting for %s", message)
}

func testConnConfig() schema.ConnConfig {
	return schema.ConnConfig{
		AutoReconnect:        true,
		MaxReconnectAttempts: 5,
		BaseDelay:            10 * time.Millisecond,
		MaxDelay:             40 * time.Millisecond,
		HeartbeatInterval:    250 * time.Millisecond,
		HeartbeatTimeout:     100 * time.Millisecond,
		MaxActionRetries:     3,
		ActionBaseDelay:      10 * time.Millisecond,
		ActionMaxDelay:       40 * time.Millisecond,
		HistorySize:          100,
		MaxQueuedMessages:    1000,
	}
}

func newTestConn(tb testing.TB, cfg schema.ConnConfig) (*Conn, *fakeDialer, *fakeStore, *recordSink) {
	tb.Helper()
	dialer := &fakeDialer{}
	store := newFakeStore()
	sink := &recordSink{}
	conn, err := NewConn("wss://sync.example.com/ws", cfg, ConnDeps{
		Dialer: dialer,
		Store:  store,
		Sink:   sink,
	})
	if err != nil {
		tb.Fatalf("new conn: %v", err)
	}
	tb.Cleanup(conn.Close)
	return conn, dialer, store, sink
}
