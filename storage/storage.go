package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// ErrDuplicateURL is returned when a feed with the same URL is already registered.
var ErrDuplicateURL = errors.New("feed URL already registered")

// Feed is a registered feed with its destination channel and poll settings.
type Feed struct {
	ID             int64
	URL            string
	Title          string
	ChatID         int64
	ThreadID       int64
	IntervalMins   int
	Enabled        bool
	CreatedAt      time.Time
	LastPolledAt   *time.Time
	LastError      string
	PublishedCount int64
}

// DB wraps the SQLite database connection and provides storage operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
// Feeds poll concurrently, so writers on separate pooled connections
// must wait out each other's locks instead of failing with SQLITE_BUSY;
// WAL additionally keeps reads open while a writer commits.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		chat_id INTEGER NOT NULL DEFAULT 0,
		thread_id INTEGER NOT NULL DEFAULT 0,
		interval_mins INTEGER NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		last_polled_at DATETIME,
		last_error TEXT NOT NULL DEFAULT '',
		published_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS seen_articles (
		feed_id INTEGER NOT NULL,
		article_id TEXT NOT NULL,
		seen_at DATETIME NOT NULL,
		PRIMARY KEY (feed_id, article_id)
	);

	CREATE INDEX IF NOT EXISTS idx_seen_articles_seen_at ON seen_articles(seen_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// CreateFeed registers a feed. The generated ID is written back into feed.
func (db *DB) CreateFeed(ctx context.Context, feed *Feed) error {
	query := `
	INSERT INTO feeds (url, title, chat_id, thread_id, interval_mins, enabled, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := db.conn.ExecContext(ctx, query,
		feed.URL,
		feed.Title,
		feed.ChatID,
		feed.ThreadID,
		feed.IntervalMins,
		feed.Enabled,
		feed.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", ErrDuplicateURL, feed.URL)
		}
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	feed.ID = id
	return nil
}

const feedColumns = `id, url, title, chat_id, thread_id, interval_mins, enabled,
	created_at, last_polled_at, last_error, published_count`

func scanFeed(row interface{ Scan(...any) error }) (*Feed, error) {
	feed := &Feed{}
	var lastPolledAt sql.NullTime
	err := row.Scan(
		&feed.ID,
		&feed.URL,
		&feed.Title,
		&feed.ChatID,
		&feed.ThreadID,
		&feed.IntervalMins,
		&feed.Enabled,
		&feed.CreatedAt,
		&lastPolledAt,
		&feed.LastError,
		&feed.PublishedCount,
	)
	if err != nil {
		return nil, err
	}
	if lastPolledAt.Valid {
		feed.LastPolledAt = &lastPolledAt.Time
	}
	return feed, nil
}

// GetFeed retrieves a feed registration by ID.
func (db *DB) GetFeed(ctx context.Context, id int64) (*Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE id = ?`
	feed, err := scanFeed(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return feed, err
}

// ListFeeds returns all feed registrations ordered by ID.
func (db *DB) ListFeeds(ctx context.Context) ([]*Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds ORDER BY id`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []*Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// DeleteFeed removes a feed registration and its seen-set entries.
func (db *DB) DeleteFeed(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	_, err = db.conn.ExecContext(ctx, `DELETE FROM seen_articles WHERE feed_id = ?`, id)
	return err
}

// SetFeedInterval updates a feed's poll interval in minutes.
func (db *DB) SetFeedInterval(ctx context.Context, id int64, mins int) error {
	return db.updateFeedField(ctx, id, `UPDATE feeds SET interval_mins = ? WHERE id = ?`, mins)
}

// SetFeedEnabled toggles a feed's enabled flag.
func (db *DB) SetFeedEnabled(ctx context.Context, id int64, enabled bool) error {
	return db.updateFeedField(ctx, id, `UPDATE feeds SET enabled = ? WHERE id = ?`, enabled)
}

// SetFeedChannel stores the destination channel for a feed.
func (db *DB) SetFeedChannel(ctx context.Context, id, chatID, threadID int64) error {
	query := `UPDATE feeds SET chat_id = ?, thread_id = ? WHERE id = ?`
	res, err := db.conn.ExecContext(ctx, query, chatID, threadID, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (db *DB) updateFeedField(ctx context.Context, id int64, query string, value any) error {
	res, err := db.conn.ExecContext(ctx, query, value, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPollSuccess stores the time of the last successful poll and
// clears the feed's error state.
func (db *DB) RecordPollSuccess(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE feeds SET last_polled_at = ?, last_error = '' WHERE id = ?`
	_, err := db.conn.ExecContext(ctx, query, at, id)
	return err
}

// RecordPollError stores the last error message for a feed.
func (db *DB) RecordPollError(ctx context.Context, id int64, msg string) error {
	query := `UPDATE feeds SET last_error = ? WHERE id = ?`
	_, err := db.conn.ExecContext(ctx, query, msg, id)
	return err
}

// IncrementPublished bumps a feed's published-article counter.
func (db *DB) IncrementPublished(ctx context.Context, id int64) error {
	query := `UPDATE feeds SET published_count = published_count + 1 WHERE id = ?`
	_, err := db.conn.ExecContext(ctx, query, id)
	return err
}

// IsNew reports whether an article identifier has not yet been recorded
// for the given feed.
func (db *DB) IsNew(ctx context.Context, feedID int64, articleID string) (bool, error) {
	query := `SELECT 1 FROM seen_articles WHERE feed_id = ? AND article_id = ?`
	var dummy int
	err := db.conn.QueryRowContext(ctx, query, feedID, articleID).Scan(&dummy)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// MarkSeen records an article identifier for a feed. Marking an
// already-seen identifier is a no-op.
func (db *DB) MarkSeen(ctx context.Context, feedID int64, articleID string) error {
	query := `INSERT OR IGNORE INTO seen_articles (feed_id, article_id, seen_at) VALUES (?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query, feedID, articleID, time.Now())
	return err
}

// SeenCount returns the number of seen-set entries for a feed.
func (db *DB) SeenCount(ctx context.Context, feedID int64) (int, error) {
	query := `SELECT COUNT(*) FROM seen_articles WHERE feed_id = ?`
	var count int
	err := db.conn.QueryRowContext(ctx, query, feedID).Scan(&count)
	return count, err
}

// PruneSeenOlderThan deletes seen-set entries recorded before the cutoff
// and returns how many were removed.
func (db *DB) PruneSeenOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM seen_articles WHERE seen_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneSeenPerFeed keeps only the newest-recorded keep entries per feed,
// evicting oldest first, and returns how many were removed.
func (db *DB) PruneSeenPerFeed(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	query := `
	DELETE FROM seen_articles WHERE rowid IN (
		SELECT rowid FROM (
			SELECT rowid, ROW_NUMBER() OVER (
				PARTITION BY feed_id ORDER BY seen_at DESC, rowid DESC
			) AS rn
			FROM seen_articles
		) WHERE rn > ?
	)
	`
	res, err := db.conn.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetSetting retrieves a setting value by key.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM settings WHERE key = ?`
	var value string
	err := db.conn.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting stores or updates a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := db.conn.ExecContext(ctx, query, key, value)
	return err
}
