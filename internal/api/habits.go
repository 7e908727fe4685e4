package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"habitd/internal/habit"
)

// optionalInt64 distinguishes an absent key from an explicit null, so a
// PATCH can clear the related-habit link.
type optionalInt64 struct {
	Set   bool
	Value *int64
}

func (o *optionalInt64) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type habitPayload struct {
	Place           *string          `json:"place"`
	Action          *string          `json:"action"`
	TimeOfDay       *habit.TimeOfDay `json:"time_of_day"`
	IsPleasant      *bool            `json:"is_pleasant"`
	RelatedHabit    optionalInt64    `json:"related_habit"`
	Reward          *string          `json:"reward"`
	PeriodicityDays *int             `json:"periodicity_days"`
	DurationSeconds *int             `json:"duration_seconds"`
	IsPublic        *bool            `json:"is_public"`
}

type habitPage struct {
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Results  []habit.Habit `json:"results"`
}

func (s *Server) handleCreateHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var p habitPayload
	if !decodeJSON(w, r, &p) {
		return
	}

	errs := map[string]string{}
	if p.Action == nil || *p.Action == "" {
		errs["action"] = "this field is required"
	}
	if p.TimeOfDay == nil {
		errs["time_of_day"] = "this field is required"
	}
	if p.DurationSeconds == nil {
		errs["duration_seconds"] = "this field is required"
	} else if *p.DurationSeconds <= 0 {
		errs["duration_seconds"] = "must be a positive integer"
	}
	if len(errs) > 0 {
		writeFieldErrors(w, errs)
		return
	}

	h := habit.Habit{
		Action:          *p.Action,
		TimeOfDay:       *p.TimeOfDay,
		DurationSeconds: *p.DurationSeconds,
		PeriodicityDays: 1,
	}
	if p.Place != nil {
		h.Place = *p.Place
	}
	if p.IsPleasant != nil {
		h.IsPleasant = *p.IsPleasant
	}
	if p.RelatedHabit.Set {
		h.RelatedHabitID = p.RelatedHabit.Value
	}
	if p.Reward != nil {
		h.Reward = *p.Reward
	}
	if p.PeriodicityDays != nil {
		h.PeriodicityDays = *p.PeriodicityDays
	}
	if p.IsPublic != nil {
		h.IsPublic = *p.IsPublic
	}

	if err := s.habits.Create(r.Context(), userID, &h); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleUpdateHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, ok := habitID(w, r)
	if !ok {
		return
	}
	var p habitPayload
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.DurationSeconds != nil && *p.DurationSeconds <= 0 {
		writeFieldErrors(w, map[string]string{"duration_seconds": "must be a positive integer"})
		return
	}

	req := habit.UpdateRequest{
		Place:           p.Place,
		Action:          p.Action,
		TimeOfDay:       p.TimeOfDay,
		IsPleasant:      p.IsPleasant,
		RelatedHabitSet: p.RelatedHabit.Set,
		RelatedHabitID:  p.RelatedHabit.Value,
		Reward:          p.Reward,
		PeriodicityDays: p.PeriodicityDays,
		DurationSeconds: p.DurationSeconds,
		IsPublic:        p.IsPublic,
	}
	h, err := s.habits.Update(r.Context(), userID, id, req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleGetHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, ok := habitID(w, r)
	if !ok {
		return
	}
	h, err := s.habits.Get(r.Context(), userID, id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleDeleteHabit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, ok := habitID(w, r)
	if !ok {
		return
	}
	if err := s.habits.Delete(r.Context(), userID, id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListHabits(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	page := pageParam(r)
	habits, err := s.habits.ListOwn(r.Context(), userID, s.cfg.PageSize, (page-1)*s.cfg.PageSize)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, habitPage{Page: page, PageSize: s.cfg.PageSize, Results: habits})
}

func (s *Server) handlePublicHabits(w http.ResponseWriter, r *http.Request) {
	page := pageParam(r)
	habits, err := s.habits.ListPublic(r.Context(), s.cfg.PageSize, (page-1)*s.cfg.PageSize)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, habitPage{Page: page, PageSize: s.cfg.PageSize, Results: habits})
}

func habitID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeDetail(w, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
