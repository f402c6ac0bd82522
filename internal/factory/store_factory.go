package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/adapters/tracking"
	"github.com/ztmail/zerotrust/internal/config"
	"github.com/ztmail/zerotrust/internal/core"
)

// StoreFactory creates tracking stores based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateTrackingStore creates a tracking store based on the configuration
func (f *StoreFactory) CreateTrackingStore() (core.TrackingStore, error) {
	storeType := f.cfg.GetString("tracking.type")

	switch storeType {
	case "memory":
		return tracking.NewMemoryStore(f.logger), nil
	case "sqlite":
		sqlitePath := f.cfg.GetString("tracking.sqlite_path")
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return tracking.NewSQLiteStore(sqlitePath, f.logger)
	case "mysql":
		return tracking.NewMySQLStore(f.cfg.GetString("tracking.mysql_dsn"), f.logger)
	case "redis":
		return tracking.NewRedisStore(
			f.cfg.GetString("tracking.redis_addr"),
			f.cfg.GetString("tracking.redis_password"),
			f.cfg.GetInt("tracking.redis_db"),
			f.logger,
		)
	default:
		return nil, fmt.Errorf("unsupported tracking store type: %s", storeType)
	}
}
