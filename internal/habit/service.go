package habit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"habitd/pkg/logx"
)

// ErrNotFound is returned when a habit does not exist or is not visible
// to the caller. Private habits of other users are indistinguishable
// from missing ones.
var ErrNotFound = errors.New("habit not found")

// Store is the persistence surface the habit service needs.
type Store interface {
	CreateHabit(ctx context.Context, h *Habit) error
	HabitByID(ctx context.Context, id int64) (*Habit, error)
	ListHabitsByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Habit, error)
	ListPublicHabits(ctx context.Context, limit, offset int) ([]Habit, error)
	UpdateHabit(ctx context.Context, h *Habit) error
	DeleteHabit(ctx context.Context, id int64) error
}

// Service runs every habit mutation through the business-rule validator.
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

// UpdateRequest is a partial update. Nil pointers mean "keep the stored
// value". RelatedHabitSet distinguishes an explicit null (clear the link)
// from an absent key.
type UpdateRequest struct {
	Place           *string
	Action          *string
	TimeOfDay       *TimeOfDay
	IsPleasant      *bool
	RelatedHabitSet bool
	RelatedHabitID  *int64
	Reward          *string
	PeriodicityDays *int
	DurationSeconds *int
	IsPublic        *bool
}

func (s *Service) Create(ctx context.Context, ownerID int64, h *Habit) error {
	h.OwnerID = ownerID
	h.CreatedAt = time.Now().UTC()
	h.LastReminderSentAt = nil

	cand, err := s.resolveCandidate(ctx, ownerID, h)
	if err != nil {
		return err
	}
	if err := Validate(cand); err != nil {
		return err
	}
	if err := s.store.CreateHabit(ctx, h); err != nil {
		return fmt.Errorf("create habit: %w", err)
	}
	s.log.Debug("habit created", logx.Int64("habit_id", h.ID), logx.Int64("owner_id", ownerID))
	return nil
}

func (s *Service) Update(ctx context.Context, ownerID, id int64, req UpdateRequest) (*Habit, error) {
	cur, err := s.ownedHabit(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	merged := *cur
	if req.Place != nil {
		merged.Place = *req.Place
	}
	if req.Action != nil {
		merged.Action = *req.Action
	}
	if req.TimeOfDay != nil {
		merged.TimeOfDay = *req.TimeOfDay
	}
	if req.IsPleasant != nil {
		merged.IsPleasant = *req.IsPleasant
	}
	if req.RelatedHabitSet {
		merged.RelatedHabitID = req.RelatedHabitID
	}
	if req.Reward != nil {
		merged.Reward = *req.Reward
	}
	if req.PeriodicityDays != nil {
		merged.PeriodicityDays = *req.PeriodicityDays
	}
	if req.DurationSeconds != nil {
		merged.DurationSeconds = *req.DurationSeconds
	}
	if req.IsPublic != nil {
		merged.IsPublic = *req.IsPublic
	}

	cand, err := s.resolveCandidate(ctx, ownerID, &merged)
	if err != nil {
		return nil, err
	}
	if err := Validate(cand); err != nil {
		return nil, err
	}
	if err := s.store.UpdateHabit(ctx, &merged); err != nil {
		return nil, fmt.Errorf("update habit: %w", err)
	}
	return &merged, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, id int64) error {
	if _, err := s.ownedHabit(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.store.DeleteHabit(ctx, id); err != nil {
		return fmt.Errorf("delete habit: %w", err)
	}
	s.log.Debug("habit deleted", logx.Int64("habit_id", id), logx.Int64("owner_id", ownerID))
	return nil
}

// Get returns a habit visible to the caller: their own, or anyone's
// public one.
func (s *Service) Get(ctx context.Context, callerID, id int64) (*Habit, error) {
	h, err := s.store.HabitByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.OwnerID != callerID && !h.IsPublic {
		return nil, ErrNotFound
	}
	return h, nil
}

func (s *Service) ListOwn(ctx context.Context, ownerID int64, limit, offset int) ([]Habit, error) {
	return s.store.ListHabitsByOwner(ctx, ownerID, limit, offset)
}

func (s *Service) ListPublic(ctx context.Context, limit, offset int) ([]Habit, error) {
	return s.store.ListPublicHabits(ctx, limit, offset)
}

func (s *Service) ownedHabit(ctx context.Context, ownerID, id int64) (*Habit, error) {
	h, err := s.store.HabitByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return h, nil
}

// resolveCandidate looks up the referenced habit (when any) and flattens
// the merged state into the validator input. A reference to a missing or
// invisible habit is rejected like any other rule violation.
func (s *Service) resolveCandidate(ctx context.Context, callerID int64, h *Habit) (Candidate, error) {
	cand := Candidate{
		IsPleasant:      h.IsPleasant,
		Reward:          h.Reward,
		DurationSeconds: h.DurationSeconds,
		PeriodicityDays: h.PeriodicityDays,
	}
	if h.RelatedHabitID == nil {
		return cand, nil
	}
	if h.ID != 0 && *h.RelatedHabitID == h.ID {
		return Candidate{}, &ValidationError{Field: "related_habit", Message: "habit cannot reference itself"}
	}
	rel, err := s.store.HabitByID(ctx, *h.RelatedHabitID)
	if errors.Is(err, ErrNotFound) {
		return Candidate{}, &ValidationError{Field: "related_habit", Message: "related_habit not found"}
	}
	if err != nil {
		return Candidate{}, fmt.Errorf("resolve related habit: %w", err)
	}
	if rel.OwnerID != callerID && !rel.IsPublic {
		return Candidate{}, &ValidationError{Field: "related_habit", Message: "related_habit not found"}
	}
	cand.HasRelated = true
	cand.RelatedIsPleasant = rel.IsPleasant
	return cand, nil
}
