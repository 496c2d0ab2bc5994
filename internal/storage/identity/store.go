package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/yndnr/spanmesh-go/internal/core/domain"
)

var identityKey = []byte("identity/v1")

// Identity is the persisted identity of the local node.
type Identity struct {
	NodeID    uuid.UUID `json:"node_id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	Boots     uint64    `json:"boots"`
}

// Store reads and writes the identity record.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens or creates the store under dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, domain.ErrInvalidConfig.WithDetails("identity: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "identity")

	opts := badger.DefaultOptions(dir).
		WithLogger(&badgerLogger{logger: logger}).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("identity: open db: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Load returns the stored identity, or domain.ErrNotFound.
func (s *Store) Load(ctx context.Context) (*Identity, error) {
	var id Identity
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(identityKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrNotFound.WithDetails("identity")
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &id)
		})
	})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Save writes id.
func (s *Store) Save(ctx context.Context, id *Identity) error {
	if id.NodeID == uuid.Nil {
		return domain.ErrInvalidArgument.WithDetails("identity: nil node id")
	}
	val, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(identityKey, val)
	})
}

// LoadOrCreate returns the stored identity with its boot counter bumped,
// creating a fresh one on first use. A non-empty label replaces the stored
// label.
func (s *Store) LoadOrCreate(ctx context.Context, label string) (*Identity, error) {
	id, err := s.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		id = &Identity{
			NodeID:    uuid.New(),
			Label:     label,
			CreatedAt: time.Now().UTC(),
		}
		s.logger.Info("created node identity", "node_id", id.NodeID, "label", label)
	case err != nil:
		return nil, err
	default:
		if label != "" && label != id.Label {
			s.logger.Info("node label changed", "node_id", id.NodeID, "old", id.Label, "new", label)
			id.Label = label
		}
	}
	id.Boots++
	if err := s.Save(ctx, id); err != nil {
		return nil, err
	}
	return id, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("identity: close db: %w", err)
	}
	return nil
}

// badgerLogger adapts slog.Logger to Badger's Logger interface. Badger's
// info output is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
