package user

import (
	"context"
	"errors"
	"testing"

	"habitd/pkg/logx"
)

type fakeStore struct {
	nextID int64
	users  map[int64]*User
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, users: map[int64]*User{}}
}

func (f *fakeStore) CreateUser(_ context.Context, u *User) error {
	for _, ex := range f.users {
		if ex.Username == u.Username {
			return ErrUsernameTaken
		}
	}
	u.ID = f.nextID
	f.nextID++
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeStore) UserByID(_ context.Context, id int64) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) UserByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range f.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeStore) SetTelegramChatID(_ context.Context, userID, chatID int64) error {
	for id, u := range f.users {
		if u.TelegramChatID != nil && *u.TelegramChatID == chatID && id != userID {
			return ErrChatIDTaken
		}
	}
	u, ok := f.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.TelegramChatID = &chatID
	return nil
}

func TestRegisterAndAuthenticate(t *testing.T) {
	t.Parallel()
	svc := NewService(newFakeStore(), logx.Nop())
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "alice@example.com", "a long password")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.ID == 0 {
		t.Error("id not assigned")
	}
	if u.PasswordHash == "a long password" {
		t.Error("password stored in clear")
	}

	got, err := svc.Authenticate(ctx, "alice", "a long password")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("Authenticate() id = %d, want %d", got.ID, u.ID)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc := NewService(newFakeStore(), logx.Nop())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "  ", "", "a long password"); err == nil {
		t.Error("blank username accepted")
	}
	if _, err := svc.Register(ctx, "bob", "", "short"); err == nil {
		t.Error("short password accepted")
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	t.Parallel()
	svc := NewService(newFakeStore(), logx.Nop())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "", "a long password"); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := svc.Register(ctx, "alice", "", "another password")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("Register() error = %v, want ErrUsernameTaken", err)
	}
}

// Wrong password and unknown user must be indistinguishable to the
// caller.
func TestAuthenticateUniformError(t *testing.T) {
	t.Parallel()
	svc := NewService(newFakeStore(), logx.Nop())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "", "a long password"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, wrongPass := svc.Authenticate(ctx, "alice", "not the password")
	_, noUser := svc.Authenticate(ctx, "nobody", "whatever here")
	if !errors.Is(wrongPass, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", wrongPass)
	}
	if !errors.Is(noUser, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", noUser)
	}
}

func TestLinkTelegram(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	svc := NewService(store, logx.Nop())
	ctx := context.Background()

	alice, _ := svc.Register(ctx, "alice", "", "a long password")
	bob, _ := svc.Register(ctx, "bob", "", "a long password")

	if err := svc.LinkTelegram(ctx, alice.ID, 0); err == nil {
		t.Error("zero chat id accepted")
	}
	if err := svc.LinkTelegram(ctx, alice.ID, -5); err == nil {
		t.Error("negative chat id accepted")
	}
	if err := svc.LinkTelegram(ctx, alice.ID, 42); err != nil {
		t.Fatalf("LinkTelegram() error = %v", err)
	}
	if err := svc.LinkTelegram(ctx, bob.ID, 42); !errors.Is(err, ErrChatIDTaken) {
		t.Errorf("duplicate chat id error = %v, want ErrChatIDTaken", err)
	}
	// Re-linking the same user's own chat id is fine.
	if err := svc.LinkTelegram(ctx, alice.ID, 42); err != nil {
		t.Errorf("re-link own chat id error = %v", err)
	}
}
