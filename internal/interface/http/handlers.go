package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/alem-hub/habit-engine/internal/application/command"
	"github.com/alem-hub/habit-engine/internal/application/query"
	"github.com/alem-hub/habit-engine/internal/application/saga"
	"github.com/alem-hub/habit-engine/internal/domain/habit"
	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports liveness; it never touches dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	uptime := time.Duration(0)
	if s.running {
		uptime = time.Since(s.startedAt)
	}
	s.mu.RUnlock()

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": s.config.Version,
		"uptime":  uptime.Round(time.Second).String(),
	})
}

// handleReady runs every registered dependency check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(JSONResponse{
			Success:   false,
			Data:      status,
			Error:     &APIError{Code: "not_ready", Message: status.Message},
			RequestID: getRequestID(r.Context()),
		})
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type recordCompletionRequest struct {
	ActivityID  string `json:"activityId"`
	Points      int64  `json:"points,omitempty"`
	Date        string `json:"date,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	EvaluateAll bool   `json:"evaluateAll,omitempty"`
}

type levelProgressResponse struct {
	Earned  int64 `json:"earned"`
	Needed  int64 `json:"needed"`
	Percent int   `json:"percent"`
}

type recordCompletionResponse struct {
	UserID                string                     `json:"userId"`
	ActivityID            string                     `json:"activityId"`
	Date                  string                     `json:"date"`
	AlreadyCompletedToday bool                       `json:"alreadyCompletedToday"`
	UnknownActivity       bool                       `json:"unknownActivity,omitempty"`
	PointsAwarded         int64                      `json:"pointsAwarded"`
	TotalExperience       int64                      `json:"totalExperience"`
	Level                 int                        `json:"level"`
	LevelProgress         levelProgressResponse      `json:"levelProgress"`
	LeveledUp             bool                       `json:"leveledUp"`
	CurrentStreak         int                        `json:"currentStreak"`
	LongestStreak         int                        `json:"longestStreak"`
	Timezone              string                     `json:"timezone,omitempty"`
	UnlockedAchievement   *saga.UnlockedAchievement  `json:"unlockedAchievement,omitempty"`
	UnlockedAchievements  []saga.UnlockedAchievement `json:"unlockedAchievements,omitempty"`
}

func (s *Server) handleRecordCompletion(w http.ResponseWriter, r *http.Request) {
	var req recordCompletionRequest
	if !s.decode(w, r, &req) {
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = r.Header.Get("X-Timezone")
	}

	res, err := s.deps.RecordCompletion.Handle(r.Context(), command.RecordCompletionCommand{
		UserID:        mux.Vars(r)["userID"],
		ActivityID:    req.ActivityID,
		Points:        req.Points,
		Date:          req.Date,
		Timezone:      timezone,
		EvaluateAll:   req.EvaluateAll,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyCompletedToday {
		status = http.StatusOK
	}
	writeJSON(w, r, status, recordCompletionResponse{
		UserID:                string(res.UserID),
		ActivityID:            string(res.ActivityID),
		Date:                  res.Date.String(),
		AlreadyCompletedToday: res.AlreadyCompletedToday,
		UnknownActivity:       res.UnknownActivity,
		PointsAwarded:         res.PointsAwarded,
		TotalExperience:       res.TotalExperience,
		Level:                 res.Level,
		LevelProgress: levelProgressResponse{
			Earned:  res.LevelProgress.Earned,
			Needed:  res.LevelProgress.Needed,
			Percent: res.LevelProgress.Percent(),
		},
		LeveledUp:            res.LeveledUp,
		CurrentStreak:        res.CurrentStreak,
		LongestStreak:        res.LongestStreak,
		Timezone:             res.Timezone,
		UnlockedAchievement:  res.UnlockedAchievement,
		UnlockedAchievements: res.UnlockedAchievements,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type routineActivityRequest struct {
	ActivityID string `json:"activityId"`
	TimeSlot   string `json:"timeSlot"`
	SortOrder  int    `json:"sortOrder"`
}

type subscribeRoutineRequest struct {
	Activities []routineActivityRequest `json:"activities,omitempty"`
}

type routineChangeResponse struct {
	RoutineID string   `json:"routineId"`
	Added     []string `json:"added,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
	Removed   []string `json:"removed,omitempty"`
}

func (s *Server) handleSubscribeRoutine(w http.ResponseWriter, r *http.Request) {
	var req subscribeRoutineRequest
	if !s.decode(w, r, &req) {
		return
	}

	activities := make([]habit.RoutineActivity, 0, len(req.Activities))
	for _, a := range req.Activities {
		slot := habit.SlotAnytime
		if strings.TrimSpace(a.TimeSlot) != "" {
			parsed, err := habit.ParseTimeSlot(a.TimeSlot)
			if err != nil {
				s.writeDomainError(w, r, err)
				return
			}
			slot = parsed
		}
		activities = append(activities, habit.RoutineActivity{
			ActivityID: shared.ActivityID(strings.TrimSpace(a.ActivityID)),
			TimeSlot:   slot,
			SortOrder:  a.SortOrder,
		})
	}

	vars := mux.Vars(r)
	res, err := s.deps.SubscribeToRoutine.Handle(r.Context(), command.SubscribeToRoutineCommand{
		UserID:        vars["userID"],
		RoutineID:     vars["routineID"],
		Activities:    activities,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, routineChangeResponse{
		RoutineID: string(res.RoutineID),
		Added:     activityStrings(res.Added),
		Skipped:   activityStrings(res.Skipped),
	})
}

func (s *Server) handleUnsubscribeRoutine(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.deps.UnsubscribeFromRoutine.Handle(r.Context(), command.UnsubscribeFromRoutineCommand{
		UserID:        vars["userID"],
		RoutineID:     vars["routineID"],
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, routineChangeResponse{
		RoutineID: string(res.RoutineID),
		Removed:   activityStrings(res.Removed),
	})
}

type addHabitRequest struct {
	ActivityID string `json:"activityId"`
	TimeSlot   string `json:"timeSlot,omitempty"`
}

type habitResponse struct {
	ActivityID string  `json:"activityId"`
	TimeSlot   string  `json:"timeSlot"`
	SortOrder  int     `json:"sortOrder"`
	RoutineID  *string `json:"routineId,omitempty"`
	Changed    bool    `json:"changed"`
}

func (s *Server) handleAddHabit(w http.ResponseWriter, r *http.Request) {
	var req addHabitRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.AddIndividualHabit.Handle(r.Context(), command.AddIndividualHabitCommand{
		UserID:        mux.Vars(r)["userID"],
		ActivityID:    req.ActivityID,
		TimeSlot:      req.TimeSlot,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	sub := res.Subscription
	resp := habitResponse{
		ActivityID: string(sub.ActivityID),
		TimeSlot:   string(sub.TimeSlot),
		SortOrder:  sub.SortOrder,
		Changed:    res.Changed,
	}
	if sub.SourceRoutineID != nil {
		id := string(*sub.SourceRoutineID)
		resp.RoutineID = &id
	}

	status := http.StatusOK
	if res.Changed {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, resp)
}

func (s *Server) handleRemoveHabit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.deps.RemoveIndividualHabit.Handle(r.Context(), command.RemoveIndividualHabitCommand{
		UserID:        vars["userID"],
		ActivityID:    vars["activityID"],
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"removed": res.Removed})
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleTodaysHabits(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.GetTodaysHabits.Handle(r.Context(), query.GetTodaysHabitsQuery{
		UserID: mux.Vars(r)["userID"],
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleProgressSummary(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.GetProgressSummary.Handle(r.Context(), query.GetProgressSummaryQuery{
		UserID:    mux.Vars(r)["userID"],
		SkipCache: r.URL.Query().Get("fresh") == "true",
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleNextAchievement(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.GetNextAchievement.Handle(r.Context(), query.GetNextAchievementQuery{
		UserID: mux.Vars(r)["userID"],
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

type evaluateRequest struct {
	EvaluateAll bool `json:"evaluateAll,omitempty"`
}

type evaluateResponse struct {
	Unlocked        []saga.UnlockedAchievement `json:"unlocked"`
	TotalExperience int64                      `json:"totalExperience"`
	Level           int                        `json:"level"`
	LeveledUp       bool                       `json:"leveledUp"`
}

func (s *Server) handleEvaluateAchievements(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.EvaluateAchievements.Handle(r.Context(), command.EvaluateAchievementsCommand{
		UserID:        mux.Vars(r)["userID"],
		EvaluateAll:   req.EvaluateAll,
		CorrelationID: getRequestID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	unlocked := res.Unlocked
	if unlocked == nil {
		unlocked = []saga.UnlockedAchievement{}
	}
	writeJSON(w, r, http.StatusOK, evaluateResponse{
		Unlocked:        unlocked,
		TotalExperience: res.TotalExperience,
		Level:           res.Level,
		LeveledUp:       res.LeveledUp,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decode reads an optional JSON body. An empty body leaves dst untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
		return false
	}
	writeJSONError(w, r, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON: "+err.Error())
	return false
}

func activityStrings(ids []shared.ActivityID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
