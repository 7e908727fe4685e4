package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"habitd/internal/habit"
	"habitd/internal/user"
	"habitd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// DueHabit is a habit joined with its owner's notification destination.
type DueHabit struct {
	habit.Habit
	ChatID int64
}

type DB struct {
	db  *sqlx.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	// ON DELETE SET NULL on related_habit_id depends on this.
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &DB{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- rows (timestamps are TEXT in sqlite) ----

const stampLayout = time.RFC3339Nano

type habitRow struct {
	ID                 int64           `db:"id"`
	OwnerID            int64           `db:"owner_id"`
	Place              string          `db:"place"`
	Action             string          `db:"action"`
	TimeOfDay          habit.TimeOfDay `db:"time_of_day"`
	IsPleasant         bool            `db:"is_pleasant"`
	RelatedHabitID     sql.NullInt64   `db:"related_habit_id"`
	Reward             string          `db:"reward"`
	PeriodicityDays    int             `db:"periodicity_days"`
	DurationSeconds    int             `db:"duration_seconds"`
	IsPublic           bool            `db:"is_public"`
	CreatedAt          string          `db:"created_at"`
	LastReminderSentAt sql.NullString  `db:"last_reminder_sent_at"`
}

func (r habitRow) toHabit() (habit.Habit, error) {
	h := habit.Habit{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		Place:           r.Place,
		Action:          r.Action,
		TimeOfDay:       r.TimeOfDay,
		IsPleasant:      r.IsPleasant,
		Reward:          r.Reward,
		PeriodicityDays: r.PeriodicityDays,
		DurationSeconds: r.DurationSeconds,
		IsPublic:        r.IsPublic,
	}
	if r.RelatedHabitID.Valid {
		id := r.RelatedHabitID.Int64
		h.RelatedHabitID = &id
	}
	created, err := time.Parse(stampLayout, r.CreatedAt)
	if err != nil {
		return habit.Habit{}, fmt.Errorf("habit %d: bad created_at: %w", r.ID, err)
	}
	h.CreatedAt = created
	if r.LastReminderSentAt.Valid {
		sent, err := time.Parse(stampLayout, r.LastReminderSentAt.String)
		if err != nil {
			return habit.Habit{}, fmt.Errorf("habit %d: bad last_reminder_sent_at: %w", r.ID, err)
		}
		h.LastReminderSentAt = &sent
	}
	return h, nil
}

type userRow struct {
	ID             int64         `db:"id"`
	Username       string        `db:"username"`
	Email          string        `db:"email"`
	PasswordHash   string        `db:"password_hash"`
	TelegramChatID sql.NullInt64 `db:"telegram_chat_id"`
	CreatedAt      string        `db:"created_at"`
}

func (r userRow) toUser() (user.User, error) {
	u := user.User{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
	}
	if r.TelegramChatID.Valid {
		id := r.TelegramChatID.Int64
		u.TelegramChatID = &id
	}
	created, err := time.Parse(stampLayout, r.CreatedAt)
	if err != nil {
		return user.User{}, fmt.Errorf("user %d: bad created_at: %w", r.ID, err)
	}
	u.CreatedAt = created
	return u, nil
}

func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), column)
}

// ---- habits ----

func (s *DB) CreateHabit(ctx context.Context, h *habit.Habit) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO habits(owner_id, place, action, time_of_day, is_pleasant, related_habit_id,
		                    reward, periodicity_days, duration_seconds, is_public, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		h.OwnerID, h.Place, h.Action, h.TimeOfDay, h.IsPleasant, h.RelatedHabitID,
		h.Reward, h.PeriodicityDays, h.DurationSeconds, h.IsPublic,
		h.CreatedAt.UTC().Format(stampLayout),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	h.ID = id
	return nil
}

func (s *DB) HabitByID(ctx context.Context, id int64) (*habit.Habit, error) {
	var row habitRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM habits WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, habit.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	h, err := row.toHabit()
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *DB) ListHabitsByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]habit.Habit, error) {
	var rows []habitRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM habits WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return toHabits(rows)
}

func (s *DB) ListPublicHabits(ctx context.Context, limit, offset int) ([]habit.Habit, error) {
	var rows []habitRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM habits WHERE is_public = 1 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return toHabits(rows)
}

func toHabits(rows []habitRow) ([]habit.Habit, error) {
	out := make([]habit.Habit, 0, len(rows))
	for _, r := range rows {
		h, err := r.toHabit()
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *DB) UpdateHabit(ctx context.Context, h *habit.Habit) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE habits SET place = ?, action = ?, time_of_day = ?, is_pleasant = ?,
		        related_habit_id = ?, reward = ?, periodicity_days = ?,
		        duration_seconds = ?, is_public = ?
		 WHERE id = ?`,
		h.Place, h.Action, h.TimeOfDay, h.IsPleasant,
		h.RelatedHabitID, h.Reward, h.PeriodicityDays,
		h.DurationSeconds, h.IsPublic, h.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return habit.ErrNotFound
	}
	return nil
}

func (s *DB) DeleteHabit(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM habits WHERE id = ?`, id)
	return err
}

// DueCandidates returns every habit whose owner has a notification
// destination. The per-minute and periodicity gates run in the scheduler,
// not here.
func (s *DB) DueCandidates(ctx context.Context) ([]DueHabit, error) {
	type dueRow struct {
		habitRow
		ChatID int64 `db:"chat_id"`
	}
	var rows []dueRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT h.*, u.telegram_chat_id AS chat_id
		 FROM habits h
		 JOIN users u ON u.id = h.owner_id
		 WHERE u.telegram_chat_id IS NOT NULL`,
	)
	if err != nil {
		return nil, err
	}
	out := make([]DueHabit, 0, len(rows))
	for _, r := range rows {
		h, err := r.toHabit()
		if err != nil {
			return nil, err
		}
		out = append(out, DueHabit{Habit: h, ChatID: r.ChatID})
	}
	return out, nil
}

// MarkReminderSent is the narrow single-field update used by the
// scheduler; it never touches other columns, so concurrent edits to the
// rest of the row are not clobbered.
func (s *DB) MarkReminderSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE habits SET last_reminder_sent_at = ? WHERE id = ?`,
		at.UTC().Format(stampLayout), id,
	)
	return err
}

// ---- users ----

func (s *DB) CreateUser(ctx context.Context, u *user.User) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, email, password_hash, created_at) VALUES(?,?,?,?)`,
		u.Username, u.Email, u.PasswordHash, u.CreatedAt.UTC().Format(stampLayout),
	)
	if isUniqueViolation(err, "users.username") {
		return user.ErrUsernameTaken
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func (s *DB) UserByID(ctx context.Context, id int64) (*user.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u, err := row.toUser()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *DB) UserByUsername(ctx context.Context, username string) (*user.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, user.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u, err := row.toUser()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *DB) SetTelegramChatID(ctx context.Context, userID, chatID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET telegram_chat_id = ? WHERE id = ?`, chatID, userID,
	)
	if isUniqueViolation(err, "users.telegram_chat_id") {
		return user.ErrChatIDTaken
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return user.ErrNotFound
	}
	return nil
}
