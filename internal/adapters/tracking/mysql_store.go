package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
)

// MySQLStore is a MySQL implementation of the TrackingStore interface,
// for deployments where several gateway nodes share one record set.
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLStore creates a new MySQL tracking store.
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tracking_records (
			id VARCHAR(64) PRIMARY KEY,
			kind VARCHAR(16) NOT NULL,
			original_target TEXT NOT NULL,
			owner_message_id VARCHAR(255),
			sender VARCHAR(255),
			recipients TEXT,
			created_at DATETIME,
			access_count BIGINT NOT NULL DEFAULT 0,
			last_access_at DATETIME NULL,
			last_user_id VARCHAR(255),
			last_source_ip VARCHAR(64),
			last_user_agent TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MySQLStore{
		db:     db,
		logger: logger,
	}, nil
}

// Put stores a new tracking record.
func (s *MySQLStore) Put(ctx context.Context, rec *core.TrackingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_records
			(id, kind, original_target, owner_message_id, sender, recipients, created_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, rec.ID, string(rec.Kind), rec.OriginalTarget, rec.OwnerMessageID, rec.Sender,
		strings.Join(rec.Recipients, ","), rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"))

	if err != nil {
		return fmt.Errorf("failed to insert tracking record: %w", err)
	}
	return nil
}

// Get retrieves a tracking record by reference id.
func (s *MySQLStore) Get(ctx context.Context, id string) (*core.TrackingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, original_target, owner_message_id, sender, recipients,
		       created_at, access_count, last_access_at, last_user_id, last_source_ip, last_user_agent
		FROM tracking_records
		WHERE id = ?
	`, id)

	var rec core.TrackingRecord
	var kind, recipients string
	var createdAt []byte
	var lastAccessAt []byte
	var lastUserID, lastSourceIP, lastUserAgent sql.NullString

	err := row.Scan(&rec.ID, &kind, &rec.OriginalTarget, &rec.OwnerMessageID, &rec.Sender,
		&recipients, &createdAt, &rec.AccessCount, &lastAccessAt, &lastUserID, &lastSourceIP, &lastUserAgent)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrTrackingNotFound
		}
		return nil, fmt.Errorf("failed to scan tracking record: %w", err)
	}

	rec.Kind = core.ArtifactKind(kind)
	if recipients != "" {
		rec.Recipients = strings.Split(recipients, ",")
	}
	if t, err := time.Parse("2006-01-02 15:04:05", string(createdAt)); err == nil {
		rec.CreatedAt = t
	}
	if len(lastAccessAt) > 0 {
		if t, err := time.Parse("2006-01-02 15:04:05", string(lastAccessAt)); err == nil {
			rec.LastAccessAt = t
		}
	}
	rec.LastUserContext = core.UserContext{
		UserID:    lastUserID.String,
		SourceIP:  lastSourceIP.String,
		UserAgent: lastUserAgent.String,
	}

	return &rec, nil
}

// Touch increments the access counter and updates the last-access
// metadata in one statement.
func (s *MySQLStore) Touch(ctx context.Context, id string, userCtx core.UserContext) (*core.TrackingRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracking_records
		SET access_count = access_count + 1,
		    last_access_at = ?,
		    last_user_id = ?,
		    last_source_ip = ?,
		    last_user_agent = ?
		WHERE id = ?
	`, time.Now().UTC().Format("2006-01-02 15:04:05"), userCtx.UserID, userCtx.SourceIP, userCtx.UserAgent, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update tracking record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return nil, core.ErrTrackingNotFound
	}

	return s.Get(ctx, id)
}

// Close closes the database connection.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
