package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"habitd/internal/api"
	"habitd/internal/auth"
	"habitd/internal/habit"
	"habitd/internal/storage"
	"habitd/internal/user"
	"habitd/pkg/logx"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "habitd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewService(auth.Config{Secret: "test-secret-do-not-use"})
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	srv := api.NewServer(api.Config{},
		user.NewService(db, logx.Nop()),
		habit.NewService(db, logx.Nop()),
		tokens,
		logx.Nop(),
	)
	return &testAPI{t: t, handler: srv.Handler()}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) decode(rec *httptest.ResponseRecorder, v any) {
	a.t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		a.t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// signup registers a user and returns a usable access token.
func (a *testAPI) signup(username string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse battery",
	})
	if rec.Code != http.StatusCreated {
		a.t.Fatalf("register %s: status %d, body %s", username, rec.Code, rec.Body.String())
	}
	rec = a.do(http.MethodPost, "/api/auth/token", "", map[string]string{
		"username": username,
		"password": "correct horse battery",
	})
	if rec.Code != http.StatusOK {
		a.t.Fatalf("token %s: status %d, body %s", username, rec.Code, rec.Body.String())
	}
	var pair auth.TokenPair
	a.decode(rec, &pair)
	return pair.Access
}

func (a *testAPI) createHabit(token string, payload map[string]any) int64 {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/habits", token, payload)
	if rec.Code != http.StatusCreated {
		a.t.Fatalf("create habit: status %d, body %s", rec.Code, rec.Body.String())
	}
	var h habit.Habit
	a.decode(rec, &h)
	return h.ID
}

func fieldErrors(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Errors
}

func habitBody(action string) map[string]any {
	return map[string]any{
		"action":           action,
		"place":            "home",
		"time_of_day":      "07:30:00",
		"duration_seconds": 60,
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "",
		"password": "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	errs := fieldErrors(t, rec)
	if _, ok := errs["username"]; !ok {
		t.Errorf("missing username error: %v", errs)
	}
	if _, ok := errs["password"]; !ok {
		t.Errorf("missing password error: %v", errs)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.signup("alice")

	rec := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice",
		"password": "another password",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if _, ok := fieldErrors(t, rec)["username"]; !ok {
		t.Errorf("expected username error, body %s", rec.Body.String())
	}
}

func TestTokenBadCredentials(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.signup("alice")

	rec := a.do(http.MethodPost, "/api/auth/token", "", map[string]string{
		"username": "alice",
		"password": "wrong password!",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRefreshFlow(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	a.signup("alice")

	rec := a.do(http.MethodPost, "/api/auth/token", "", map[string]string{
		"username": "alice",
		"password": "correct horse battery",
	})
	var pair auth.TokenPair
	a.decode(rec, &pair)

	rec = a.do(http.MethodPost, "/api/auth/token/refresh", "", map[string]string{"refresh": pair.Refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d, body %s", rec.Code, rec.Body.String())
	}
	var fresh auth.TokenPair
	a.decode(rec, &fresh)
	if fresh.Access == "" || fresh.Refresh == "" {
		t.Fatal("refresh returned an incomplete pair")
	}

	// An access token must not work as a refresh token.
	rec = a.do(http.MethodPost, "/api/auth/token/refresh", "", map[string]string{"refresh": pair.Access})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("access-as-refresh: status %d, want 401", rec.Code)
	}
}

func TestHabitsRequireAuth(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)

	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/api/habits"},
		{http.MethodPost, "/api/habits"},
		{http.MethodGet, "/api/habits/1"},
		{http.MethodPatch, "/api/habits/1"},
		{http.MethodDelete, "/api/habits/1"},
	} {
		rec := a.do(tt.method, tt.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status %d, want 401", tt.method, tt.path, rec.Code)
		}
	}

	// The public feed is the exception.
	rec := a.do(http.MethodGet, "/api/habits/public", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /api/habits/public: status %d, want 200", rec.Code)
	}
}

func TestCreateHabitDefaultsAndEcho(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	token := a.signup("alice")

	rec := a.do(http.MethodPost, "/api/habits", token, habitBody("stretch"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var h habit.Habit
	a.decode(rec, &h)
	if h.ID == 0 {
		t.Error("id not assigned")
	}
	if h.PeriodicityDays != 1 {
		t.Errorf("periodicity_days = %d, want default 1", h.PeriodicityDays)
	}
	if got := h.TimeOfDay.String(); got != "07:30:00" {
		t.Errorf("time_of_day = %q, want 07:30:00", got)
	}
}

func TestCreateHabitFieldErrors(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	token := a.signup("alice")

	pleasant := habitBody("hot bath")
	pleasant["is_pleasant"] = true
	pleasantID := a.createHabit(token, pleasant)

	tests := []struct {
		name      string
		payload   map[string]any
		wantField string
	}{
		{
			name:      "missing action",
			payload:   map[string]any{"time_of_day": "07:30:00", "duration_seconds": 60},
			wantField: "action",
		},
		{
			name:      "missing time",
			payload:   map[string]any{"action": "run", "duration_seconds": 60},
			wantField: "time_of_day",
		},
		{
			name:      "zero duration",
			payload:   map[string]any{"action": "run", "time_of_day": "07:30:00", "duration_seconds": 0},
			wantField: "duration_seconds",
		},
		{
			name: "duration over limit",
			payload: map[string]any{
				"action": "run", "time_of_day": "07:30:00", "duration_seconds": 121,
			},
			wantField: "duration_seconds",
		},
		{
			name: "periodicity out of range",
			payload: map[string]any{
				"action": "run", "time_of_day": "07:30:00", "duration_seconds": 60,
				"periodicity_days": 8,
			},
			wantField: "periodicity_days",
		},
		{
			name: "reward and related together",
			payload: map[string]any{
				"action": "run", "time_of_day": "07:30:00", "duration_seconds": 60,
				"reward": "coffee", "related_habit": pleasantID,
			},
			wantField: "non_field_errors",
		},
		{
			name: "related habit missing",
			payload: map[string]any{
				"action": "run", "time_of_day": "07:30:00", "duration_seconds": 60,
				"related_habit": 9999,
			},
			wantField: "related_habit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(http.MethodPost, "/api/habits", token, tt.payload)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			if _, ok := fieldErrors(t, rec)[tt.wantField]; !ok {
				t.Errorf("expected %q error, body %s", tt.wantField, rec.Body.String())
			}
		})
	}
}

func TestUpdateHabitClearsRelatedOnNull(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	token := a.signup("alice")

	pleasant := habitBody("hot bath")
	pleasant["is_pleasant"] = true
	pleasantID := a.createHabit(token, pleasant)

	useful := habitBody("stretch")
	useful["related_habit"] = pleasantID
	usefulID := a.createHabit(token, useful)

	// Absent key keeps the link.
	rec := a.do(http.MethodPatch, fmt.Sprintf("/api/habits/%d", usefulID), token, map[string]any{"place": "gym"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch place: status %d, body %s", rec.Code, rec.Body.String())
	}
	var h habit.Habit
	a.decode(rec, &h)
	if h.RelatedHabitID == nil || *h.RelatedHabitID != pleasantID {
		t.Fatalf("related link lost by unrelated patch: %+v", h.RelatedHabitID)
	}

	// Explicit null clears it.
	rec = a.do(http.MethodPatch, fmt.Sprintf("/api/habits/%d", usefulID), token, map[string]any{"related_habit": nil})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch null: status %d, body %s", rec.Code, rec.Body.String())
	}
	a.decode(rec, &h)
	if h.RelatedHabitID != nil {
		t.Errorf("related_habit = %d, want cleared", *h.RelatedHabitID)
	}
}

func TestHabitOwnershipScoping(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	alice := a.signup("alice")
	bob := a.signup("bob")

	private := a.createHabit(alice, habitBody("journal"))
	public := habitBody("walk")
	public["is_public"] = true
	publicID := a.createHabit(alice, public)

	// Bob cannot see, edit, or delete Alice's private habit.
	if rec := a.do(http.MethodGet, fmt.Sprintf("/api/habits/%d", private), bob, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get private: status %d, want 404", rec.Code)
	}
	if rec := a.do(http.MethodPatch, fmt.Sprintf("/api/habits/%d", private), bob, map[string]any{"place": "x"}); rec.Code != http.StatusNotFound {
		t.Errorf("patch private: status %d, want 404", rec.Code)
	}
	if rec := a.do(http.MethodDelete, fmt.Sprintf("/api/habits/%d", private), bob, nil); rec.Code != http.StatusNotFound {
		t.Errorf("delete private: status %d, want 404", rec.Code)
	}

	// Public habits are readable but still not editable by strangers.
	if rec := a.do(http.MethodGet, fmt.Sprintf("/api/habits/%d", publicID), bob, nil); rec.Code != http.StatusOK {
		t.Errorf("get public: status %d, want 200", rec.Code)
	}
	if rec := a.do(http.MethodPatch, fmt.Sprintf("/api/habits/%d", publicID), bob, map[string]any{"place": "x"}); rec.Code != http.StatusNotFound {
		t.Errorf("patch public as stranger: status %d, want 404", rec.Code)
	}

	// Bob's own list stays empty.
	rec := a.do(http.MethodGet, "/api/habits", bob, nil)
	var page struct {
		Results []habit.Habit `json:"results"`
	}
	a.decode(rec, &page)
	if len(page.Results) != 0 {
		t.Errorf("bob sees %d habits, want 0", len(page.Results))
	}
}

func TestListHabitsPagination(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	token := a.signup("alice")

	for i := 0; i < 7; i++ {
		a.createHabit(token, habitBody(fmt.Sprintf("habit %d", i)))
	}

	rec := a.do(http.MethodGet, "/api/habits", token, nil)
	var page struct {
		Page     int           `json:"page"`
		PageSize int           `json:"page_size"`
		Results  []habit.Habit `json:"results"`
	}
	a.decode(rec, &page)
	if page.Page != 1 || page.PageSize != 5 {
		t.Errorf("page meta = %d/%d, want 1/5", page.Page, page.PageSize)
	}
	if len(page.Results) != 5 {
		t.Fatalf("page 1 has %d results, want 5", len(page.Results))
	}

	rec = a.do(http.MethodGet, "/api/habits?page=2", token, nil)
	a.decode(rec, &page)
	if len(page.Results) != 2 {
		t.Errorf("page 2 has %d results, want 2", len(page.Results))
	}
}

func TestDeleteHabit(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	token := a.signup("alice")
	id := a.createHabit(token, habitBody("meditate"))

	rec := a.do(http.MethodDelete, fmt.Sprintf("/api/habits/%d", id), token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d, want 204", rec.Code)
	}
	if rec := a.do(http.MethodGet, fmt.Sprintf("/api/habits/%d", id), token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get deleted: status %d, want 404", rec.Code)
	}
}

func TestLinkTelegram(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	alice := a.signup("alice")
	bob := a.signup("bob")

	rec := a.do(http.MethodPost, "/api/users/telegram", alice, map[string]any{"telegram_chat_id": 42})
	if rec.Code != http.StatusOK {
		t.Fatalf("link: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = a.do(http.MethodPost, "/api/users/telegram", alice, map[string]any{"telegram_chat_id": 0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("link zero: status %d, want 400", rec.Code)
	}

	// Chat ids are unique across users.
	rec = a.do(http.MethodPost, "/api/users/telegram", bob, map[string]any{"telegram_chat_id": 42})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate chat id: status %d, want 400", rec.Code)
	}
	if _, ok := fieldErrors(t, rec)["telegram_chat_id"]; !ok {
		t.Errorf("expected telegram_chat_id error, body %s", rec.Body.String())
	}
}

func TestUnknownJSONFieldRejected(t *testing.T) {
	t.Parallel()
	a := newTestAPI(t)
	token := a.signup("alice")

	body := habitBody("run")
	body["owner_id"] = 999
	rec := a.do(http.MethodPost, "/api/habits", token, body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
