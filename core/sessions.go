package core

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink/schema"
)

// sessionRegistry tracks which projects the client has joined on one
// endpoint. Membership records intent: it survives disconnects and is only
// mutated by explicit join/leave calls. The persisted record is read once at
// construction and written on every mutation; store failures are absorbed so
// the in-memory set stays authoritative for the session.
type sessionRegistry struct {
	mu       sync.Mutex
	endpoint schema.Endpoint
	store    MembershipStore
	log      pslog.Logger
	order    []schema.ProjectID
	members  map[schema.ProjectID]struct{}
}

func newSessionRegistry(endpoint schema.Endpoint, store MembershipStore, logger pslog.Logger) *sessionRegistry {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	reg := &sessionRegistry{
		endpoint: endpoint,
		store:    store,
		log:      logger,
		members:  make(map[schema.ProjectID]struct{}),
	}
	if store == nil {
		return reg
	}
	projects, ok, err := store.LoadMembership(endpoint)
	if err != nil {
		logger.Warn("membership load failed, starting empty", "err", err)
		return reg
	}
	if !ok {
		return reg
	}
	for _, project := range projects {
		if _, exists := reg.members[project]; exists {
			continue
		}
		reg.members[project] = struct{}{}
		reg.order = append(reg.order, project)
	}
	return reg
}

// join records membership and persists it. It reports whether the project
// was newly added.
func (s *sessionRegistry) join(projectID schema.ProjectID) bool {
	s.mu.Lock()
	if _, exists := s.members[projectID]; exists {
		s.mu.Unlock()
		return false
	}
	s.members[projectID] = struct{}{}
	s.order = append(s.order, projectID)
	snapshot := append([]schema.ProjectID(nil), s.order...)
	s.mu.Unlock()
	s.persist(snapshot)
	return true
}

// leave removes membership and persists it. It reports whether the project
// was a member.
func (s *sessionRegistry) leave(projectID schema.ProjectID) bool {
	s.mu.Lock()
	if _, exists := s.members[projectID]; !exists {
		s.mu.Unlock()
		return false
	}
	delete(s.members, projectID)
	next := make([]schema.ProjectID, 0, len(s.order))
	for _, project := range s.order {
		if project == projectID {
			continue
		}
		next = append(next, project)
	}
	s.order = next
	snapshot := append([]schema.ProjectID(nil), s.order...)
	s.mu.Unlock()
	s.persist(snapshot)
	return true
}

// list returns the membership in original join order.
func (s *sessionRegistry) list() []schema.ProjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.ProjectID(nil), s.order...)
}

func (s *sessionRegistry) persist(projects []schema.ProjectID) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveMembership(s.endpoint, projects); err != nil {
		s.log.Warn("membership save failed, continuing in memory", "err", err)
	}
}
