package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
)

// MemoryStore is an in-memory implementation of the TrackingStore
// interface. Records are never evicted within the process lifetime.
type MemoryStore struct {
	records map[string]*core.TrackingRecord
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewMemoryStore creates a new in-memory tracking store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*core.TrackingRecord),
		logger:  logger,
	}
}

// Put stores a new tracking record. Reference ids are never reused;
// overwriting an existing id is a programming error.
func (s *MemoryStore) Put(ctx context.Context, rec *core.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("tracking id %s already exists", rec.ID)
	}

	stored := *rec
	s.records[rec.ID] = &stored
	return nil
}

// Get retrieves a copy of the tracking record for a reference id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*core.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, core.ErrTrackingNotFound
	}

	copied := *rec
	return &copied, nil
}

// Touch atomically increments the access counter and updates the
// last-access metadata. The write lock makes the whole update atomic
// per record.
func (s *MemoryStore) Touch(ctx context.Context, id string, userCtx core.UserContext) (*core.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, core.ErrTrackingNotFound
	}

	rec.AccessCount++
	rec.LastAccessAt = time.Now()
	rec.LastUserContext = userCtx

	s.logger.Debug("Touched tracking record",
		zap.String("id", id),
		zap.Int64("access_count", rec.AccessCount))

	copied := *rec
	return &copied, nil
}
