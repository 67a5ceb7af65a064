// Package store persists gateway connections. The production store is a
// single bbolt file; an in-memory variant backs tests.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"toolgate/internal/domain"
)

const (
	connectionsBucketName = "connections"
	orgIndexBucketName    = "org_index"
)

// BoltStore keeps connection records in a bbolt file, one JSON document per
// connection plus an (org, template) index enforcing uniqueness.
type BoltStore struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

var _ domain.ConnectionStore = (*BoltStore)(nil)

func Open(path string) (*BoltStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}
	options := &bolt.Options{Timeout: time.Second}
	db, err := bolt.Open(trimmed, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open connection db: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, path: trimmed}, nil
}

func ensureSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{connectionsBucketName, orgIndexBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BoltStore) Get(ctx context.Context, id string) (*domain.Connection, error) {
	var conn *domain.Connection
	err := s.view(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(connectionsBucketName)).Get([]byte(id))
		if raw == nil {
			return domain.E(domain.CodeNotFound, "store.get",
				fmt.Sprintf("connection %q", id), domain.ErrConnectionNotFound)
		}
		decoded, err := decodeConnection(raw)
		if err != nil {
			return err
		}
		conn = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *BoltStore) GetByOrgTemplate(ctx context.Context, orgID, templateID string) (*domain.Connection, error) {
	var conn *domain.Connection
	err := s.view(func(tx *bolt.Tx) error {
		id := tx.Bucket([]byte(orgIndexBucketName)).Get(indexKey(orgID, templateID))
		if id == nil {
			return domain.E(domain.CodeNotFound, "store.get_by_org_template",
				fmt.Sprintf("org %q template %q", orgID, templateID), domain.ErrConnectionNotFound)
		}
		raw := tx.Bucket([]byte(connectionsBucketName)).Get(id)
		if raw == nil {
			return fmt.Errorf("index entry %s/%s points at missing connection %s", orgID, templateID, id)
		}
		decoded, err := decodeConnection(raw)
		if err != nil {
			return err
		}
		conn = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *BoltStore) Put(ctx context.Context, conn *domain.Connection) error {
	if err := validateRecord(conn); err != nil {
		return err
	}
	raw, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("encode connection %s: %w", conn.ID, err)
	}
	return s.update(func(tx *bolt.Tx) error {
		connections := tx.Bucket([]byte(connectionsBucketName))
		index := tx.Bucket([]byte(orgIndexBucketName))

		key := indexKey(conn.OrgID, conn.TemplateID)
		if existing := index.Get(key); existing != nil && string(existing) != conn.ID {
			return domain.E(domain.CodeAlreadyExists, "store.put",
				fmt.Sprintf("org %q already has a connection for template %q", conn.OrgID, conn.TemplateID),
				domain.ErrDuplicateConnection)
		}

		// A record's org and template never change after creation, but a
		// stale index entry from a crashed write must not survive.
		if previous := connections.Get([]byte(conn.ID)); previous != nil {
			old, err := decodeConnection(previous)
			if err != nil {
				return err
			}
			oldKey := indexKey(old.OrgID, old.TemplateID)
			if string(oldKey) != string(key) {
				if err := index.Delete(oldKey); err != nil {
					return fmt.Errorf("drop stale index entry: %w", err)
				}
			}
		}

		if err := connections.Put([]byte(conn.ID), raw); err != nil {
			return fmt.Errorf("write connection %s: %w", conn.ID, err)
		}
		if err := index.Put(key, []byte(conn.ID)); err != nil {
			return fmt.Errorf("write index entry for %s: %w", conn.ID, err)
		}
		return nil
	})
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.update(func(tx *bolt.Tx) error {
		connections := tx.Bucket([]byte(connectionsBucketName))
		raw := connections.Get([]byte(id))
		if raw == nil {
			return domain.E(domain.CodeNotFound, "store.delete",
				fmt.Sprintf("connection %q", id), domain.ErrConnectionNotFound)
		}
		conn, err := decodeConnection(raw)
		if err != nil {
			return err
		}
		if err := connections.Delete([]byte(id)); err != nil {
			return fmt.Errorf("delete connection %s: %w", id, err)
		}
		if err := tx.Bucket([]byte(orgIndexBucketName)).Delete(indexKey(conn.OrgID, conn.TemplateID)); err != nil {
			return fmt.Errorf("delete index entry for %s: %w", id, err)
		}
		return nil
	})
}

func (s *BoltStore) ListByOrg(ctx context.Context, orgID string) ([]*domain.Connection, error) {
	var result []*domain.Connection
	err := s.view(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(connectionsBucketName)).ForEach(func(_, raw []byte) error {
			conn, err := decodeConnection(raw)
			if err != nil {
				return err
			}
			if conn.OrgID == orgID {
				result = append(result, conn)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortConnections(result)
	return result, nil
}

func (s *BoltStore) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.E(domain.CodeUnavailable, "store", "connection store is closed", nil)
	}
	return s.db.View(fn)
}

func (s *BoltStore) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.E(domain.CodeUnavailable, "store", "connection store is closed", nil)
	}
	return s.db.Update(fn)
}

func validateRecord(conn *domain.Connection) error {
	if conn == nil {
		return domain.E(domain.CodeInvalidArgument, "store.put", "connection is nil", nil)
	}
	var missing []string
	if strings.TrimSpace(conn.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(conn.OrgID) == "" {
		missing = append(missing, "orgId")
	}
	if strings.TrimSpace(conn.TemplateID) == "" {
		missing = append(missing, "templateId")
	}
	if len(missing) > 0 {
		return domain.E(domain.CodeInvalidArgument, "store.put",
			fmt.Sprintf("missing fields: %s", strings.Join(missing, ", ")), nil)
	}
	return nil
}

func decodeConnection(raw []byte) (*domain.Connection, error) {
	var conn domain.Connection
	if err := json.Unmarshal(raw, &conn); err != nil {
		return nil, fmt.Errorf("decode connection record: %w", err)
	}
	return &conn, nil
}

func indexKey(orgID, templateID string) []byte {
	return []byte(orgID + "/" + templateID)
}

func sortConnections(conns []*domain.Connection) {
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].CreatedAt.Equal(conns[j].CreatedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].CreatedAt.Before(conns[j].CreatedAt)
	})
}
