package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/CipherHitro/AiMind/internal/config"
	"github.com/CipherHitro/AiMind/internal/model/chat"
	"github.com/CipherHitro/AiMind/internal/model/notification"
	"github.com/CipherHitro/AiMind/internal/model/user"
)

//go:embed schema.sql
var schema embed.FS

// PostgresStore backs the persistence surface with postgres. Lock transitions
// rely on conditional UPDATEs so they stay atomic across instances.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the database and bootstraps the schema.
func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	ddl, err := schema.ReadFile("schema.sql")
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	if _, err := db.Exec(string(ddl)); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func marshalTurns(turns []chat.Turn) ([]byte, error) {
	if turns == nil {
		turns = []chat.Turn{}
	}
	return json.Marshal(turns)
}

func (s *PostgresStore) CreateChat(ctx context.Context, c chat.Chat) error {
	turns, err := marshalTurns(c.Turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chats (id, title, organization_id, user_id, turns, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Title, c.OrganizationID, c.UserID, turns, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

func scanChat(row interface{ Scan(...any) error }) (chat.Chat, error) {
	var (
		c          chat.Chat
		turns      []byte
		acquiredAt sql.NullTime
		expiresAt  sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Title, &c.OrganizationID, &c.UserID, &turns,
		&c.Lock.HolderID, &c.Lock.HolderName, &acquiredAt, &expiresAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return chat.Chat{}, err
	}
	if err := json.Unmarshal(turns, &c.Turns); err != nil {
		return chat.Chat{}, fmt.Errorf("unmarshal turns: %w", err)
	}
	c.Lock.AcquiredAt = acquiredAt.Time
	c.Lock.ExpiresAt = expiresAt.Time
	return c, nil
}

const chatColumns = `id, title, organization_id, user_id, turns,
	lock_holder_id, lock_holder_name, lock_acquired_at, lock_expires_at,
	created_at, updated_at`

func (s *PostgresStore) GetChat(ctx context.Context, id string) (chat.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return chat.Chat{}, fmt.Errorf("get chat: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListChatsByOrganization(ctx context.Context, organizationID string) ([]chat.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE organization_id = $1
		ORDER BY updated_at DESC`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := make([]chat.Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (s *PostgresStore) UpdateChatTitle(ctx context.Context, id, title string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = $2, updated_at = $3 WHERE id = $1`, id, title, now)
	if err != nil {
		return fmt.Errorf("update chat title: %w", err)
	}
	return requireRow(res, ErrChatNotFound)
}

func (s *PostgresStore) SaveConversation(ctx context.Context, id, title string, turns []chat.Turn, now time.Time) error {
	data, err := marshalTurns(turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = $2, turns = $3, updated_at = $4 WHERE id = $1`,
		id, title, data, now)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return requireRow(res, ErrChatNotFound)
}

func (s *PostgresStore) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return requireRow(res, ErrChatNotFound)
}

func (s *PostgresStore) AcquireLock(ctx context.Context, chatID, holderID, holderName string, now time.Time, ttl time.Duration) (chat.LockState, bool, error) {
	expiresAt := now.Add(ttl)
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats
		SET lock_holder_id = $2, lock_holder_name = $3, lock_acquired_at = $4, lock_expires_at = $5
		WHERE id = $1
		  AND (lock_holder_id = '' OR lock_holder_id = $2 OR lock_expires_at <= $4)`,
		chatID, holderID, holderName, now, expiresAt)
	if err != nil {
		return chat.LockState{}, false, fmt.Errorf("acquire lock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return chat.LockState{}, false, err
	}
	if n == 1 {
		return chat.LockState{HolderID: holderID, HolderName: holderName, AcquiredAt: now, ExpiresAt: expiresAt}, true, nil
	}

	// Rejected or missing: re-read to report the current holder.
	c, err := s.GetChat(ctx, chatID)
	if err != nil {
		return chat.LockState{}, false, err
	}
	return c.Lock, false, nil
}

func (s *PostgresStore) ExtendLock(ctx context.Context, chatID, holderID string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats
		SET lock_acquired_at = $3, lock_expires_at = $4
		WHERE id = $1 AND lock_holder_id = $2 AND lock_expires_at > $3`,
		chatID, holderID, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("extend lock: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, chatID, holderID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats
		SET lock_holder_id = '', lock_holder_name = '', lock_acquired_at = NULL, lock_expires_at = NULL
		WHERE id = $1
		  AND (lock_holder_id = '' OR lock_holder_id = $2 OR lock_expires_at <= $3)`,
		chatID, holderID, now)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// No row matched: either the chat is gone or someone else holds the lock.
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return err
	}
	return ErrNotLockHolder
}

func (s *PostgresStore) ReleaseAllHeldBy(ctx context.Context, holderID string) ([]chat.ReleasedLock, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE chats
		SET lock_holder_id = '', lock_holder_name = '', lock_acquired_at = NULL, lock_expires_at = NULL
		WHERE lock_holder_id = $1
		RETURNING id, organization_id`, holderID)
	if err != nil {
		return nil, fmt.Errorf("release all locks: %w", err)
	}
	defer rows.Close()

	var released []chat.ReleasedLock
	for rows.Next() {
		var r chat.ReleasedLock
		if err := rows.Scan(&r.ChatID, &r.OrganizationID); err != nil {
			return nil, err
		}
		released = append(released, r)
	}
	return released, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (user.User, error) {
	var (
		u    user.User
		orgs []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, email, organizations, active_organization, credits, created_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &orgs, &u.ActiveOrganization, &u.Credits, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, ErrUserNotFound
	}
	if err != nil {
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	if err := json.Unmarshal(orgs, &u.Organizations); err != nil {
		return user.User{}, fmt.Errorf("unmarshal organizations: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) DebitCredits(ctx context.Context, userID string, cost int) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET credits = credits - $2
		WHERE id = $1 AND credits >= $2
		RETURNING credits`, userID, cost).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the user is missing or the balance is too low.
		u, getErr := s.GetUser(ctx, userID)
		if getErr != nil {
			return 0, getErr
		}
		return u.Credits, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("debit credits: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n notification.Notification) error {
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, organization_id, type, title, message, category, priority, action_url, metadata, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		n.ID, n.UserID, n.OrganizationID, n.Type, n.Title, n.Message,
		n.Category, n.Priority, n.ActionURL, data, n.IsRead, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// visibleClause matches the personal OR global OR organization-wide scopes.
const visibleClause = `(user_id = $1 OR type = 'global' OR (type = 'organization' AND organization_id = $2))`

func (s *PostgresStore) ListNotificationsVisibleTo(ctx context.Context, u user.User, limit int) ([]notification.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, organization_id, type, title, message, category, priority, action_url, metadata, is_read, created_at
		FROM notifications
		WHERE `+visibleClause+`
		ORDER BY created_at DESC
		LIMIT $3`, u.ID, u.ActiveOrganization, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]notification.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func scanNotification(row interface{ Scan(...any) error }) (notification.Notification, error) {
	var (
		n        notification.Notification
		metadata []byte
	)
	err := row.Scan(&n.ID, &n.UserID, &n.OrganizationID, &n.Type, &n.Title, &n.Message,
		&n.Category, &n.Priority, &n.ActionURL, &metadata, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return notification.Notification{}, err
	}
	if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
		return notification.Notification{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id string, u user.User) (notification.Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $3 AND `+visibleClause+`
		RETURNING id, user_id, organization_id, type, title, message, category, priority, action_url, metadata, is_read, created_at`,
		u.ID, u.ActiveOrganization, id)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return notification.Notification{}, ErrNotificationNotFound
	}
	if err != nil {
		return notification.Notification{}, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, u user.User) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE is_read = FALSE AND `+visibleClause, u.ID, u.ActiveOrganization)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return requireRow(res, ErrNotificationNotFound)
}

func (s *PostgresStore) UnreadNotificationCount(ctx context.Context, u user.User) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE is_read = FALSE AND `+visibleClause, u.ID, u.ActiveOrganization).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
