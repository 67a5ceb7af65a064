package store

import (
	"context"
	"fmt"
	"sync"

	"toolgate/internal/domain"
)

// MemoryStore is a map-backed ConnectionStore with the same uniqueness
// semantics as the bolt store. Intended for tests and ephemeral runs.
type MemoryStore struct {
	mu          sync.RWMutex
	connections map[string]*domain.Connection
	orgIndex    map[string]string
}

var _ domain.ConnectionStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connections: make(map[string]*domain.Connection),
		orgIndex:    make(map[string]string),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[id]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "store.get",
			fmt.Sprintf("connection %q", id), domain.ErrConnectionNotFound)
	}
	return conn.Clone(), nil
}

func (s *MemoryStore) GetByOrgTemplate(ctx context.Context, orgID, templateID string) (*domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.orgIndex[string(indexKey(orgID, templateID))]
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "store.get_by_org_template",
			fmt.Sprintf("org %q template %q", orgID, templateID), domain.ErrConnectionNotFound)
	}
	return s.connections[id].Clone(), nil
}

func (s *MemoryStore) Put(ctx context.Context, conn *domain.Connection) error {
	if err := validateRecord(conn); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(indexKey(conn.OrgID, conn.TemplateID))
	if existing, ok := s.orgIndex[key]; ok && existing != conn.ID {
		return domain.E(domain.CodeAlreadyExists, "store.put",
			fmt.Sprintf("org %q already has a connection for template %q", conn.OrgID, conn.TemplateID),
			domain.ErrDuplicateConnection)
	}
	if previous, ok := s.connections[conn.ID]; ok {
		oldKey := string(indexKey(previous.OrgID, previous.TemplateID))
		if oldKey != key {
			delete(s.orgIndex, oldKey)
		}
	}

	s.connections[conn.ID] = conn.Clone()
	s.orgIndex[key] = conn.ID
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.connections[id]
	if !ok {
		return domain.E(domain.CodeNotFound, "store.delete",
			fmt.Sprintf("connection %q", id), domain.ErrConnectionNotFound)
	}
	delete(s.connections, id)
	delete(s.orgIndex, string(indexKey(conn.OrgID, conn.TemplateID)))
	return nil
}

func (s *MemoryStore) ListByOrg(ctx context.Context, orgID string) ([]*domain.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*domain.Connection
	for _, conn := range s.connections {
		if conn.OrgID == orgID {
			result = append(result, conn.Clone())
		}
	}
	sortConnections(result)
	return result, nil
}
