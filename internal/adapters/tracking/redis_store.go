package tracking

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
)

const recordKeyPrefix = "zt:track:"

// RedisStore is a Redis implementation of the TrackingStore interface.
// Each record is a hash; the access counter uses HINCRBY so concurrent
// resolutions stay atomic per record.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a new Redis tracking store.
func NewRedisStore(addr string, password string, db int, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		logger: logger,
	}, nil
}

// Put stores a new tracking record.
func (s *RedisStore) Put(ctx context.Context, rec *core.TrackingRecord) error {
	key := recordKeyPrefix + rec.ID
	err := s.client.HSet(ctx, key, map[string]interface{}{
		"kind":             string(rec.Kind),
		"original_target":  rec.OriginalTarget,
		"owner_message_id": rec.OwnerMessageID,
		"sender":           rec.Sender,
		"recipients":       strings.Join(rec.Recipients, ","),
		"created_at":       rec.CreatedAt.Format(time.RFC3339),
		"access_count":     rec.AccessCount,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store tracking record: %w", err)
	}
	return nil
}

// Get retrieves a tracking record by reference id.
func (s *RedisStore) Get(ctx context.Context, id string) (*core.TrackingRecord, error) {
	fields, err := s.client.HGetAll(ctx, recordKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tracking record: %w", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrTrackingNotFound
	}
	return recordFromFields(id, fields), nil
}

// Touch atomically increments the access counter and updates the
// last-access metadata.
func (s *RedisStore) Touch(ctx context.Context, id string, userCtx core.UserContext) (*core.TrackingRecord, error) {
	key := recordKeyPrefix + id

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check tracking record: %w", err)
	}
	if exists == 0 {
		return nil, core.ErrTrackingNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "access_count", 1)
	pipe.HSet(ctx, key, map[string]interface{}{
		"last_access_at":  time.Now().Format(time.RFC3339),
		"last_user_id":    userCtx.UserID,
		"last_source_ip":  userCtx.SourceIP,
		"last_user_agent": userCtx.UserAgent,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to touch tracking record: %w", err)
	}

	return s.Get(ctx, id)
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func recordFromFields(id string, fields map[string]string) *core.TrackingRecord {
	rec := &core.TrackingRecord{
		ID:             id,
		Kind:           core.ArtifactKind(fields["kind"]),
		OriginalTarget: fields["original_target"],
		OwnerMessageID: fields["owner_message_id"],
		Sender:         fields["sender"],
	}
	if fields["recipients"] != "" {
		rec.Recipients = strings.Split(fields["recipients"], ",")
	}
	if t, err := time.Parse(time.RFC3339, fields["created_at"]); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, fields["last_access_at"]); err == nil {
		rec.LastAccessAt = t
	}
	if n, err := strconv.ParseInt(fields["access_count"], 10, 64); err == nil {
		rec.AccessCount = n
	}
	rec.LastUserContext = core.UserContext{
		UserID:    fields["last_user_id"],
		SourceIP:  fields["last_source_ip"],
		UserAgent: fields["last_user_agent"],
	}
	return rec
}
