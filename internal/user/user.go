// Package user holds user accounts and their notification destination.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"habitd/pkg/logx"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrChatIDTaken        = errors.New("telegram_chat_id already linked to another user")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// User is an account. TelegramChatID is the opaque notification
// destination; habits of users without one are never scheduled.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Email          string    `db:"email" json:"email"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	TelegramChatID *int64    `db:"telegram_chat_id" json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Store is the persistence surface the user service needs.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id int64) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	SetTelegramChatID(ctx context.Context, userID, chatID int64) error
}

type Service struct {
	store Store
	log   logx.Logger
}

func NewService(store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

func (s *Service) Register(ctx context.Context, username, email, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user registered", logx.Int64("user_id", u.ID), logx.String("username", u.Username))
	return u, nil
}

// Authenticate checks the password. A missing user and a wrong password
// produce the same error.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.store.UserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) ByID(ctx context.Context, id int64) (*User, error) {
	return s.store.UserByID(ctx, id)
}

// LinkTelegram registers the user's notification destination.
func (s *Service) LinkTelegram(ctx context.Context, userID, chatID int64) error {
	if chatID <= 0 {
		return errors.New("telegram_chat_id must be positive")
	}
	if err := s.store.SetTelegramChatID(ctx, userID, chatID); err != nil {
		return err
	}
	s.log.Info("telegram chat linked", logx.Int64("user_id", userID), logx.Int64("chat_id", chatID))
	return nil
}
