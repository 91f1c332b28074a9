package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"pkt.systems/sessionlink/schema"
)

type scriptedDeliver struct {
	mu       sync.Mutex
	online   bool
	attempts []schema.Envelope
}

func (d *scriptedDeliver) deliver(env schema.Envelope) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, env)
	return d.online
}

func (d *scriptedDeliver) setOnline(online bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online = online
}

func (d *scriptedDeliver) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.attempts)
}

func newTestCoordinator(t *testing.T, online bool) (*Coordinator, *scriptedDeliver, *recordSink) {
	t.Helper()
	deliver := &scriptedDeliver{online: online}
	sink := &recordSink{}
	cfg := testConnConfig()
	coord := newCoordinator("wss://a", cfg, deliver.deliver, sink, nil)
	t.Cleanup(coord.Close)
	return coord, deliver, sink
}

func TestSubmitWhileConnected(t *testing.T) {
	t.Parallel()
	coord, deliver, sink := newTestCoordinator(t, true)

	id, err := coord.Submit(schema.ProjectInput{Name: "demo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if deliver.attemptCount() != 1 {
		t.Fatalf("expected one delivery attempt, got %d", deliver.attemptCount())
	}

	snap, ok := coord.Request(id)
	if !ok || snap.Status != schema.RequestPending {
		t.Fatalf("expected pending request, got %+v", snap)
	}
	if !snap.Project.Provisional {
		t.Fatalf("expected provisional entity, got %+v", snap.Project)
	}

	events := sink.requestEvents()
	if len(events) != 1 || events[0].Phase != schema.PhaseApplied {
		t.Fatalf("expected applied event, got %+v", events)
	}
}

func TestSubmitEmptyNameRejected(t *testing.T) {
	t.Parallel()
	coord, _, _ := newTestCoordinator(t, true)
	if _, err := coord.Submit(schema.ProjectInput{Name: "  "}); err != schema.ErrEmptyInput {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestConfirmReplacesProvisional(t *testing.T) {
	t.Parallel()
	coord, _, sink := newTestCoordinator(t, true)

	id, err := coord.Submit(schema.ProjectInput{Name: "demo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	authoritative := schema.Project{ID: "proj-42", Name: "demo"}
	coord.onConfirmed(id, authoritative)

	projects := coord.Projects()
	if len(projects) != 1 {
		t.Fatalf("expected exactly one entity, got %+v", projects)
	}
	if projects[0].ID != "proj-42" || projects[0].Provisional {
		t.Fatalf("expected authoritative entity, got %+v", projects[0])
	}

	snap, _ := coord.Request(id)
	if snap.Status != schema.RequestConfirmed {
		t.Fatalf("expected confirmed, got %v", snap.Status)
	}
	events := sink.requestEvents()
	if events[len(events)-1].Phase != schema.PhaseConfirmed {
		t.Fatalf("expected confirmed event, got %+v", events)
	}
}

func TestRejectedRestoresInputVerbatim(t *testing.T) {
	t.Parallel()
	coord, _, sink := newTestCoordinator(t, true)

	input := schema.ProjectInput{Name: "demo", Description: "exactly what was typed"}
	id, err := coord.Submit(input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	coord.onRejected(id, map[string]string{"name": "required"})

	if len(coord.Projects()) != 0 {
		t.Fatalf("expected provisional entity removed")
	}
	snap, _ := coord.Request(id)
	if snap.Status != schema.RequestRolledBack {
		t.Fatalf("expected rolled back, got %v", snap.Status)
	}
	events := sink.requestEvents()
	last := events[len(events)-1]
	if last.Phase != schema.PhaseRolledBack {
		t.Fatalf("expected rolled_back event, got %+v", last)
	}
	if last.Input != input {
		t.Fatalf("input snapshot not returned verbatim: %+v", last.Input)
	}
	if last.FieldErrors["name"] != "required" {
		t.Fatalf("field errors missing: %+v", last.FieldErrors)
	}
}

func TestSubmitOfflineQueuesAndRetries(t *testing.T) {
	t.Parallel()
	coord, deliver, _ := newTestCoordinator(t, false)

	id, err := coord.Submit(schema.ProjectInput{Name: "demo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	state := coord.RetryState()
	if !state.Retrying || state.Queued != 1 {
		t.Fatalf("expected retry loop running, got %+v", state)
	}

	deliver.setOnline(true)
	waitFor(t, time.Second, "queued delivery", func() bool {
		return coord.RetryState().Queued == 0
	})
	snap, _ := coord.Request(id)
	if snap.Status != schema.RequestPending {
		t.Fatalf("delivered request stays pending until confirmed, got %v", snap.Status)
	}
	if coord.RetryState().Retrying {
		t.Fatalf("expected retry loop stopped")
	}
}

func TestExhaustedRetriesFailTerminally(t *testing.T) {
	t.Parallel()
	coord, deliver, sink := newTestCoordinator(t, false)

	id, err := coord.Submit(schema.ProjectInput{Name: "demo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, 2*time.Second, "terminal failure", func() bool {
		snap, _ := coord.Request(id)
		return snap.Status == schema.RequestFailed
	})

	snap, _ := coord.Request(id)
	if snap.RetryCount != 3 {
		t.Fatalf("expected exactly 3 retries, got %d", snap.RetryCount)
	}
	// Submit attempt plus three retry attempts, never a fourth.
	attempts := deliver.attemptCount()
	time.Sleep(100 * time.Millisecond)
	if deliver.attemptCount() != attempts {
		t.Fatalf("retry loop kept firing after exhaustion")
	}
	if attempts != 4 {
		t.Fatalf("expected 4 delivery attempts total, got %d", attempts)
	}

	events := sink.requestEvents()
	last := events[len(events)-1]
	if last.Phase != schema.PhaseFailed {
		t.Fatalf("expected failed event, got %+v", last)
	}
	if len(coord.Projects()) != 0 {
		t.Fatalf("expected provisional entity removed on terminal failure")
	}
}

func TestCancelRollsBackWithoutErrors(t *testing.T) {
	t.Parallel()
	coord, _, sink := newTestCoordinator(t, false)
	id, err := coord.Submit(schema.ProjectInput{Name: "demo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := coord.Cancel(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	events := sink.requestEvents()
	last := events[len(events)-1]
	if last.Phase != schema.PhaseRolledBack || len(last.FieldErrors) != 0 {
		t.Fatalf("expected rollback without errors, got %+v", last)
	}
	if err := coord.Cancel(id); err != schema.ErrRequestNotFound {
		t.Fatalf("expected ErrRequestNotFound on second cancel, got %v", err)
	}
}

func TestRequestLifecycleExclusive(t *testing.T) {
	t.Parallel()
	coord, _, _ := newTestCoordinator(t, true)
	id, err := coord.Submit(schema.ProjectInput{Name: "demo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := len(coord.Projects()); got != 1 {
		t.Fatalf("expected exactly one provisional entity, got %d", got)
	}
	coord.onConfirmed(id, schema.Project{ID: "proj-42", Name: "demo"})
	if got := len(coord.Projects()); got != 1 {
		t.Fatalf("confirmed entity duplicated or lost: %d", got)
	}
	// late duplicate confirmation is ignored
	coord.onConfirmed(id, schema.Project{ID: "proj-43", Name: "demo"})
	projects := coord.Projects()
	if len(projects) != 1 || projects[0].ID != "proj-42" {
		t.Fatalf("duplicate confirmation changed state: %+v", projects)
	}
}

func TestSubmitOfflineThenConnectDeliversOnce(t *testing.T) {
	t.Parallel()
	conn, dialer, _, _ := newTestConn(t, testConnConfig())

	id, err := conn.Submit(schema.ProjectInput{Name: "demo"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if conn.Requests().RetryState().Queued != 1 {
		t.Fatalf("expected one queued action request")
	}

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	transport := dialer.lastTransport()
	waitFor(t, time.Second, "create delivered", func() bool {
		return len(transport.sentOfType(schema.MessageCreateProject)) == 1
	})
	time.Sleep(50 * time.Millisecond)
	if got := len(transport.sentOfType(schema.MessageCreateProject)); got != 1 {
		t.Fatalf("expected exactly one create send, got %d", got)
	}

	var sent schema.CreateProject
	if err := transport.sentOfType(schema.MessageCreateProject)[0].Decode(&sent); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if sent.RequestID != id {
		t.Fatalf("request id mismatch: %v != %v", sent.RequestID, id)
	}

	transport.deliver(t, schema.MessageProjectCreated, schema.ProjectCreated{
		RequestID: id,
		Project:   schema.Project{ID: "proj-42", Name: "demo"},
	})
	waitFor(t, time.Second, "confirmation", func() bool {
		snap, _ := conn.Requests().Request(id)
		return snap.Status == schema.RequestConfirmed
	})
	projects := conn.Requests().Projects()
	if len(projects) != 1 || projects[0].ID != "proj-42" || projects[0].Provisional {
		t.Fatalf("provisional entity not replaced: %+v", projects)
	}
}

func TestRejectionViaWireRestoresInput(t *testing.T) {
	t.Parallel()
	conn, dialer, _, sink := newTestConn(t, testConnConfig())
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	input := schema.ProjectInput{Name: "demo"}
	id, err := conn.Submit(input)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	dialer.lastTransport().deliver(t, schema.MessageProjectCreateFailed, schema.ProjectCreateFailed{
		RequestID: id,
		Errors:    map[string]string{"name": "required"},
	})
	waitFor(t, time.Second, "rollback", func() bool {
		snap, _ := conn.Requests().Request(id)
		return snap.Status == schema.RequestRolledBack
	})
	events := sink.requestEvents()
	last := events[len(events)-1]
	if last.Phase != schema.PhaseRolledBack || last.Input != input || last.FieldErrors["name"] != "required" {
		t.Fatalf("unexpected rollback event: %+v", last)
	}
}
