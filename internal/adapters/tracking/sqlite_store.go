package tracking

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ztmail/zerotrust/internal/core"
)

// SQLiteStore is a SQLite implementation of the TrackingStore
// interface, for single-node deployments that need records to survive
// restarts.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a new SQLite tracking store.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tracking_records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			original_target TEXT NOT NULL,
			owner_message_id TEXT,
			sender TEXT,
			recipients TEXT,
			created_at TIMESTAMP,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_access_at TIMESTAMP,
			last_user_id TEXT,
			last_source_ip TEXT,
			last_user_agent TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

// Put stores a new tracking record.
func (s *SQLiteStore) Put(ctx context.Context, rec *core.TrackingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_records
			(id, kind, original_target, owner_message_id, sender, recipients, created_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, rec.ID, string(rec.Kind), rec.OriginalTarget, rec.OwnerMessageID, rec.Sender,
		strings.Join(rec.Recipients, ","), rec.CreatedAt.Format(time.RFC3339))

	if err != nil {
		return fmt.Errorf("failed to insert tracking record: %w", err)
	}
	return nil
}

// Get retrieves a tracking record by reference id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.TrackingRecord, error) {
	return s.scanRecord(s.db.QueryRowContext(ctx, `
		SELECT id, kind, original_target, owner_message_id, sender, recipients,
		       created_at, access_count, last_access_at, last_user_id, last_source_ip, last_user_agent
		FROM tracking_records
		WHERE id = ?
	`, id))
}

// Touch increments the access counter and updates the last-access
// metadata in one statement, so concurrent resolutions of the same
// reference never lose an increment.
func (s *SQLiteStore) Touch(ctx context.Context, id string, userCtx core.UserContext) (*core.TrackingRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracking_records
		SET access_count = access_count + 1,
		    last_access_at = ?,
		    last_user_id = ?,
		    last_source_ip = ?,
		    last_user_agent = ?
		WHERE id = ?
	`, time.Now().Format(time.RFC3339), userCtx.UserID, userCtx.SourceIP, userCtx.UserAgent, id)
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) scanRecord(row *sql.Row) (*core.TrackingRecord, error) {
	var rec core.TrackingRecord
	var kind, recipients string
	var createdAt string
	var lastAccessAt, lastUserID, lastSourceIP, lastUserAgent sql.NullString

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
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if lastAccessAt.Valid {
		if t, err := time.Parse(time.RFC3339, lastAccessAt.String); err == nil {
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
