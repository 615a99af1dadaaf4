// Package sqlite provides the SQLite-backed message store and user directory.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nfrund/pairchat/internal/domain"
	"github.com/nfrund/pairchat/internal/store"
	"github.com/nfrund/pairchat/internal/store/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists users and messages in SQLite.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithQueryTimeout sets the default per-call timeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{db: db, timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Shutdown satisfies do.Shutdowner.
func (s *Store) Shutdown() error {
	return s.Close()
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

const userColumns = "id, username, online, last_seen"

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var (
		u        domain.User
		online   int
		lastSeen int64
	)
	if err := row.Scan(&u.ID, &u.Username, &online, &lastSeen); err != nil {
		return nil, err
	}
	u.Online = online != 0
	u.LastSeen = fromMillis(lastSeen)
	return &u, nil
}

// CreateUser inserts a user with a unique username.
func (s *Store) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", domain.ErrValidation)
	}
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	const q = "INSERT INTO users (username) VALUES (?) RETURNING " + userColumns
	u, err := scanUser(s.db.QueryRowContext(ctx, q, username))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Wrap(domain.ErrUserExists, "create user "+username)
		}
		return nil, store.NewDBError(err, "create user").WithQuery(q)
	}
	return u, nil
}

// GetUser loads one user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	const q = "SELECT " + userColumns + " FROM users WHERE id = ?"
	u, err := scanUser(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.Wrap(domain.ErrNotFound, fmt.Sprintf("get user %d", id))
	}
	if err != nil {
		return nil, store.NewDBError(err, "get user").WithQuery(q)
	}
	return u, nil
}

// FindByUsername loads one user by username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	const q = "SELECT " + userColumns + " FROM users WHERE username = ?"
	u, err := scanUser(s.db.QueryRowContext(ctx, q, strings.TrimSpace(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.Wrap(domain.ErrNotFound, "find user "+username)
	}
	if err != nil {
		return nil, store.NewDBError(err, "find user").WithQuery(q)
	}
	return u, nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	const q = "SELECT " + userColumns + " FROM users ORDER BY username"
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, store.NewDBError(err, "list users").WithQuery(q)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, store.NewDBError(err, "scan user")
		}
		users = append(users, u)
	}
	return users, store.Wrap(rows.Err(), "list users")
}

// SetOnline updates a user's presence. Going offline also records last_seen.
func (s *Store) SetOnline(ctx context.Context, id int64, online bool, at time.Time) error {
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	var (
		res sql.Result
		err error
	)
	if online {
		res, err = s.db.ExecContext(ctx, "UPDATE users SET online = 1 WHERE id = ?", id)
	} else {
		res, err = s.db.ExecContext(ctx, "UPDATE users SET online = 0, last_seen = ? WHERE id = ?", toMillis(at), id)
	}
	if err != nil {
		return store.NewDBError(err, "set online")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.Wrap(domain.ErrNotFound, fmt.Sprintf("set online %d", id))
	}
	return nil
}

const messageColumns = "id, sender_id, receiver_id, content, created_at, is_read"

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var (
		m         domain.Message
		createdAt int64
		isRead    int
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &createdAt, &isRead); err != nil {
		return nil, err
	}
	m.CreatedAt = fromMillis(createdAt)
	m.IsRead = isRead != 0
	return &m, nil
}

// CreateMessage inserts an unread message. Ids come from AUTOINCREMENT and
// are never reused, so they grow strictly.
func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*domain.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	const q = "INSERT INTO messages (sender_id, receiver_id, content, created_at) VALUES (?, ?, ?, ?) RETURNING " + messageColumns
	m, err := scanMessage(s.db.QueryRowContext(ctx, q, senderID, receiverID, content, toMillis(time.Now())))
	if err != nil {
		return nil, store.NewDBError(err, "create message").WithQuery(q)
	}
	return m, nil
}

// MarkRead flips is_read for the listed ids owned by receiverID in a single
// statement and returns the number of rows that changed.
func (s *Store) MarkRead(ctx context.Context, ids []int64, receiverID int64) (int64, error) {
	ids = store.UniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	q := "UPDATE messages SET is_read = 1 WHERE receiver_id = ? AND is_read = 0 AND id IN (" + placeholders(len(ids)) + ")"
	args := make([]any, 0, len(ids)+1)
	args = append(args, receiverID)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, store.NewDBError(err, "mark read").WithQuery(q)
	}
	n, err := res.RowsAffected()
	return n, store.Wrap(err, "mark read rows affected")
}

// FilterReceived keeps the ids whose receiver is receiverID.
func (s *Store) FilterReceived(ctx context.Context, ids []int64, receiverID int64) ([]int64, error) {
	ids = store.UniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	q := "SELECT id FROM messages WHERE receiver_id = ? AND id IN (" + placeholders(len(ids)) + ") ORDER BY id"
	args := make([]any, 0, len(ids)+1)
	args = append(args, receiverID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, store.NewDBError(err, "filter received").WithQuery(q)
	}
	defer rows.Close()

	var owned []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, store.NewDBError(err, "scan id")
		}
		owned = append(owned, id)
	}
	return owned, store.Wrap(rows.Err(), "filter received")
}

// UnreadCount counts unread messages from senderID to receiverID.
func (s *Store) UnreadCount(ctx context.Context, senderID, receiverID int64) (int64, error) {
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	const q = "SELECT COUNT(*) FROM messages WHERE sender_id = ? AND receiver_id = ? AND is_read = 0"
	var n int64
	if err := s.db.QueryRowContext(ctx, q, senderID, receiverID).Scan(&n); err != nil {
		return 0, store.NewDBError(err, "unread count").WithQuery(q)
	}
	return n, nil
}

// Conversation returns up to limit of the latest messages between a and b,
// oldest first. A non-positive limit returns the whole history.
func (s *Store) Conversation(ctx context.Context, a, b int64, limit int) ([]*domain.Message, error) {
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	const q = "SELECT " + messageColumns + " FROM messages" +
		" WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)" +
		" ORDER BY id DESC LIMIT ?"
	rows, err := s.db.QueryContext(ctx, q, a, b, b, a, limit)
	if err != nil {
		return nil, store.NewDBError(err, "conversation").WithQuery(q)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, store.NewDBError(err, "scan message")
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewDBError(err, "conversation")
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkConversationRead marks every unread message from senderID to receiverID.
func (s *Store) MarkConversationRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	const q = "UPDATE messages SET is_read = 1 WHERE sender_id = ? AND receiver_id = ? AND is_read = 0"
	res, err := s.db.ExecContext(ctx, q, senderID, receiverID)
	if err != nil {
		return 0, store.NewDBError(err, "mark conversation read").WithQuery(q)
	}
	n, err := res.RowsAffected()
	return n, store.Wrap(err, "mark conversation read rows affected")
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var (
	_ domain.MessageStore  = (*Store)(nil)
	_ domain.UserDirectory = (*Store)(nil)
)
