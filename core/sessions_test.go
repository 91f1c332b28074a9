package core

import (
	"reflect"
	"testing"

	"pkt.systems/sessionlink/schema"
)

func TestRegistryLoadsPersistedMembership(t *testing.T) {
	store := newFakeStore()
	store.records["wss://a"] = []schema.ProjectID{"p1", "p2"}
	reg := newSessionRegistry("wss://a", store, nil)
	if !reflect.DeepEqual(reg.list(), []schema.ProjectID{"p1", "p2"}) {
		t.Fatalf("unexpected membership: %v", reg.list())
	}
}

func TestRegistryJoinLeavePersists(t *testing.T) {
	store := newFakeStore()
	reg := newSessionRegistry("wss://a", store, nil)

	if !reg.join("p1") {
		t.Fatalf("expected join to add")
	}
	if reg.join("p1") {
		t.Fatalf("expected duplicate join to be a no-op")
	}
	reg.join("p2")
	if !reflect.DeepEqual(store.records["wss://a"], []schema.ProjectID{"p1", "p2"}) {
		t.Fatalf("persisted record mismatch: %v", store.records["wss://a"])
	}

	if !reg.leave("p1") {
		t.Fatalf("expected leave to remove")
	}
	if reg.leave("p1") {
		t.Fatalf("expected double leave to be a no-op")
	}
	if !reflect.DeepEqual(store.records["wss://a"], []schema.ProjectID{"p2"}) {
		t.Fatalf("persisted record mismatch: %v", store.records["wss://a"])
	}
}

func TestRegistryKeepsJoinOrder(t *testing.T) {
	reg := newSessionRegistry("wss://a", newFakeStore(), nil)
	reg.join("p3")
	reg.join("p1")
	reg.join("p2")
	if !reflect.DeepEqual(reg.list(), []schema.ProjectID{"p3", "p1", "p2"}) {
		t.Fatalf("unexpected order: %v", reg.list())
	}
}

func TestRegistrySaveFailureAbsorbed(t *testing.T) {
	store := newFakeStore()
	store.failSave = true
	reg := newSessionRegistry("wss://a", store, nil)
	if !reg.join("p1") {
		t.Fatalf("join must succeed despite store failure")
	}
	if !reflect.DeepEqual(reg.list(), []schema.ProjectID{"p1"}) {
		t.Fatalf("in-memory membership lost: %v", reg.list())
	}
}

func TestRegistryNilStore(t *testing.T) {
	reg := newSessionRegistry("wss://a", nil, nil)
	reg.join("p1")
	if len(reg.list()) != 1 {
		t.Fatalf("expected membership without store")
	}
}
