// Package surreal provides a SurrealDB-backed message store and user
// directory. Integer ids are allocated from counter records so they stay
// strictly increasing like the SQLite implementation.
package surreal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nfrund/pairchat/internal/domain"
	"github.com/nfrund/pairchat/internal/store"
	"github.com/surrealdb/surrealdb.go"
)

// Config holds connection settings.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	Timeout   time.Duration
}

// Store persists users and messages in SurrealDB.
type Store struct {
	db      *surrealdb.DB
	timeout time.Duration
}

const schema = `
DEFINE TABLE IF NOT EXISTS user SCHEMALESS;
DEFINE INDEX IF NOT EXISTS user_uid ON user FIELDS uid UNIQUE;
DEFINE INDEX IF NOT EXISTS user_username ON user FIELDS username UNIQUE;
DEFINE TABLE IF NOT EXISTS message SCHEMALESS;
DEFINE INDEX IF NOT EXISTS message_seq ON message FIELDS seq UNIQUE;
DEFINE INDEX IF NOT EXISTS message_unread ON message FIELDS receiver_id, sender_id, is_read;
`

type userRow struct {
	UID      int64  `json:"uid"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen"`
}

func (r userRow) toDomain() *domain.User {
	u := &domain.User{ID: r.UID, Username: r.Username, Online: r.Online}
	if r.LastSeen != 0 {
		u.LastSeen = time.UnixMilli(r.LastSeen).UTC()
	}
	return u
}

type messageRow struct {
	Seq        int64  `json:"seq"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"`
	IsRead     bool   `json:"is_read"`
}

func (r messageRow) toDomain() *domain.Message {
	return &domain.Message{
		ID:         r.Seq,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Content:    r.Content,
		CreatedAt:  time.UnixMilli(r.CreatedAt).UTC(),
		IsRead:     r.IsRead,
	}
}

const (
	userFields    = "uid, username, online, last_seen"
	messageFields = "seq, sender_id, receiver_id, content, created_at, is_read"
)

// Open connects, signs in, selects the namespace and database, and defines
// the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to surrealdb: %w", err)
	}

	if cfg.Username != "" {
		if _, err := db.SignIn(ctx, &surrealdb.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
		}); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/db: %w", err)
	}

	s := &Store{db: db, timeout: cfg.Timeout}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	if err := s.exec(ctx, "define schema", schema, nil); err != nil {
		db.Close(ctx)
		return nil, err
	}

	slog.Info("Connected to SurrealDB", "namespace", cfg.Namespace, "database", cfg.Database)
	return s, nil
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.db.Close(context.Background())
}

// Shutdown satisfies do.Shutdowner.
func (s *Store) Shutdown() error {
	return s.Close()
}

// HealthCheck runs a trivial query.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.exec(ctx, "health check", "RETURN true", nil)
}

// query runs a single-statement query and returns its rows.
func query[T any](ctx context.Context, s *Store, op, q string, params map[string]any) ([]T, error) {
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()

	results, err := surrealdb.Query[[]T](ctx, s.db, q, params)
	if err != nil {
		return nil, store.NewDBError(err, op).WithQuery(q)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

func (s *Store) exec(ctx context.Context, op, q string, params map[string]any) error {
	ctx, cancel := store.Bound(ctx, s.timeout)
	defer cancel()
	if _, err := surrealdb.Query[any](ctx, s.db, q, params); err != nil {
		return store.NewDBError(err, op).WithQuery(q)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already contains")
}

// CreateUser inserts a user with a unique username.
func (s *Store) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", domain.ErrValidation)
	}
	const q = `CREATE user CONTENT {
	uid: (UPSERT ONLY counter:user SET value = (value OR 0) + 1 RETURN VALUE value),
	username: $username,
	online: false,
	last_seen: 0
} RETURN ` + userFields
	rows, err := query[userRow](ctx, s, "create user", q, map[string]any{"username": username})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Wrap(domain.ErrUserExists, "create user "+username)
		}
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.NewDBError(store.ErrQueryFailed, "create user returned no rows")
	}
	return rows[0].toDomain(), nil
}

func (s *Store) oneUser(ctx context.Context, op, where string, params map[string]any) (*domain.User, error) {
	rows, err := query[userRow](ctx, s, op, "SELECT "+userFields+" FROM user WHERE "+where+" LIMIT 1", params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.Wrap(domain.ErrNotFound, op)
	}
	return rows[0].toDomain(), nil
}

// GetUser loads one user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	return s.oneUser(ctx, fmt.Sprintf("get user %d", id), "uid = $id", map[string]any{"id": id})
}

// FindByUsername loads one user by username.
func (s *Store) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.oneUser(ctx, "find user "+username, "username = $username",
		map[string]any{"username": strings.TrimSpace(username)})
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := query[userRow](ctx, s, "list users", "SELECT "+userFields+" FROM user ORDER BY username", nil)
	if err != nil {
		return nil, err
	}
	users := make([]*domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	return users, nil
}

// SetOnline updates a user's presence. Going offline also records last_seen.
func (s *Store) SetOnline(ctx context.Context, id int64, online bool, at time.Time) error {
	q := "UPDATE user SET online = true WHERE uid = $id RETURN uid"
	params := map[string]any{"id": id}
	if !online {
		q = "UPDATE user SET online = false, last_seen = $at WHERE uid = $id RETURN uid"
		params["at"] = at.UTC().UnixMilli()
	}
	rows, err := query[userRow](ctx, s, "set online", q, params)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return store.Wrap(domain.ErrNotFound, fmt.Sprintf("set online %d", id))
	}
	return nil
}

// CreateMessage inserts an unread message. The sequence number is taken from
// counter:message inside the same statement.
func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*domain.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	const q = `CREATE message CONTENT {
	seq: (UPSERT ONLY counter:message SET value = (value OR 0) + 1 RETURN VALUE value),
	sender_id: $sender,
	receiver_id: $receiver,
	content: $content,
	created_at: $now,
	is_read: false
} RETURN ` + messageFields
	rows, err := query[messageRow](ctx, s, "create message", q, map[string]any{
		"sender":   senderID,
		"receiver": receiverID,
		"content":  content,
		"now":      time.Now().UTC().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, store.NewDBError(store.ErrQueryFailed, "create message returned no rows")
	}
	return rows[0].toDomain(), nil
}

// MarkRead flips is_read for the listed ids owned by receiverID in one
// UPDATE statement.
func (s *Store) MarkRead(ctx context.Context, ids []int64, receiverID int64) (int64, error) {
	ids = store.UniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	const q = "UPDATE message SET is_read = true WHERE receiver_id = $receiver AND is_read = false AND seq INSIDE $ids RETURN seq"
	rows, err := query[messageRow](ctx, s, "mark read", q, map[string]any{"receiver": receiverID, "ids": ids})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// FilterReceived keeps the ids whose receiver is receiverID, ascending.
func (s *Store) FilterReceived(ctx context.Context, ids []int64, receiverID int64) ([]int64, error) {
	ids = store.UniqueIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	const q = "SELECT seq FROM message WHERE receiver_id = $receiver AND seq INSIDE $ids ORDER BY seq"
	rows, err := query[messageRow](ctx, s, "filter received", q, map[string]any{"receiver": receiverID, "ids": ids})
	if err != nil {
		return nil, err
	}
	owned := make([]int64, 0, len(rows))
	for _, r := range rows {
		owned = append(owned, r.Seq)
	}
	return owned, nil
}

// UnreadCount counts unread messages from senderID to receiverID.
func (s *Store) UnreadCount(ctx context.Context, senderID, receiverID int64) (int64, error) {
	type countRow struct {
		N int64 `json:"n"`
	}
	const q = "SELECT count() AS n FROM message WHERE sender_id = $sender AND receiver_id = $receiver AND is_read = false GROUP ALL"
	rows, err := query[countRow](ctx, s, "unread count", q, map[string]any{"sender": senderID, "receiver": receiverID})
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	return rows[0].N, nil
}

// Conversation returns up to limit of the latest messages between a and b,
// oldest first. A non-positive limit returns the whole history.
func (s *Store) Conversation(ctx context.Context, a, b int64, limit int) ([]*domain.Message, error) {
	q := "SELECT " + messageFields + " FROM message" +
		" WHERE (sender_id = $a AND receiver_id = $b) OR (sender_id = $b AND receiver_id = $a)" +
		" ORDER BY seq DESC"
	params := map[string]any{"a": a, "b": b}
	if limit > 0 {
		q += " LIMIT $limit"
		params["limit"] = limit
	}
	rows, err := query[messageRow](ctx, s, "conversation", q, params)
	if err != nil {
		return nil, err
	}
	msgs := make([]*domain.Message, len(rows))
	for i, r := range rows {
		msgs[len(rows)-1-i] = r.toDomain()
	}
	return msgs, nil
}

// MarkConversationRead marks every unread message from senderID to receiverID.
func (s *Store) MarkConversationRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	const q = "UPDATE message SET is_read = true WHERE sender_id = $sender AND receiver_id = $receiver AND is_read = false RETURN seq"
	rows, err := query[messageRow](ctx, s, "mark conversation read", q, map[string]any{"sender": senderID, "receiver": receiverID})
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

var (
	_ domain.MessageStore  = (*Store)(nil)
	_ domain.UserDirectory = (*Store)(nil)
)
