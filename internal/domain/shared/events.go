package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Events are published only after the command that
// produced them has been committed.
const (
	// Progress events
	EventCompletionRecorded EventType = "progress.completion_recorded"
	EventLevelUp            EventType = "progress.level_up"
	EventStreakUpdated      EventType = "progress.streak_updated"
	EventStreakReset        EventType = "progress.streak_reset"

	// Achievement events
	EventAchievementUnlocked EventType = "achievement.unlocked"

	// Habit events
	EventRoutineSubscribed   EventType = "habit.routine_subscribed"
	EventRoutineUnsubscribed EventType = "habit.routine_unsubscribed"
	EventHabitAdded          EventType = "habit.added"
	EventHabitRemoved        EventType = "habit.removed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event. The aggregate of every engine event is the user.
func NewBaseEvent(eventType EventType, userID UserID, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: userID.String(),
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// CompletionRecordedEvent is emitted when a new completion is added to the ledger.
type CompletionRecordedEvent struct {
	BaseEvent
	ActivityID      string `json:"activity_id"`
	Date            string `json:"date"`
	Points          int64  `json:"points"`
	TotalExperience int64  `json:"total_experience"`
}

// Payload implements Event interface.
func (e CompletionRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"activity_id":      e.ActivityID,
		"date":             e.Date,
		"points":           e.Points,
		"total_experience": e.TotalExperience,
	}
}

// NewCompletionRecordedEvent creates a new CompletionRecordedEvent.
func NewCompletionRecordedEvent(userID UserID, activityID ActivityID, date string, points, total int64, at time.Time) CompletionRecordedEvent {
	return CompletionRecordedEvent{
		BaseEvent:       NewBaseEvent(EventCompletionRecorded, userID, at),
		ActivityID:      activityID.String(),
		Date:            date,
		Points:          points,
		TotalExperience: total,
	}
}

// LevelUpEvent is emitted when total experience crosses a level threshold.
type LevelUpEvent struct {
	BaseEvent
	OldLevel        int   `json:"old_level"`
	NewLevel        int   `json:"new_level"`
	TotalExperience int64 `json:"total_experience"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level":        e.OldLevel,
		"new_level":        e.NewLevel,
		"total_experience": e.TotalExperience,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID UserID, oldLevel, newLevel int, total int64, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:       NewBaseEvent(EventLevelUp, userID, at),
		OldLevel:        oldLevel,
		NewLevel:        newLevel,
		TotalExperience: total,
	}
}

// StreakUpdatedEvent is emitted when a completion extends or starts a streak.
type StreakUpdatedEvent struct {
	BaseEvent
	PreviousStreak int `json:"previous_streak"`
	CurrentStreak  int `json:"current_streak"`
	LongestStreak  int `json:"longest_streak"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_streak": e.PreviousStreak,
		"current_streak":  e.CurrentStreak,
		"longest_streak":  e.LongestStreak,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID UserID, previous, current, longest int, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent:      NewBaseEvent(EventStreakUpdated, userID, at),
		PreviousStreak: previous,
		CurrentStreak:  current,
		LongestStreak:  longest,
	}
}

// StreakResetEvent is emitted when a completion after a gap restarts the streak at 1.
type StreakResetEvent struct {
	BaseEvent
	PreviousStreak int `json:"previous_streak"`
	DaysMissed     int `json:"days_missed"`
}

// Payload implements Event interface.
func (e StreakResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"previous_streak": e.PreviousStreak,
		"days_missed":     e.DaysMissed,
	}
}

// NewStreakResetEvent creates a new StreakResetEvent.
func NewStreakResetEvent(userID UserID, previous, daysMissed int, at time.Time) StreakResetEvent {
	return StreakResetEvent{
		BaseEvent:      NewBaseEvent(EventStreakReset, userID, at),
		PreviousStreak: previous,
		DaysMissed:     daysMissed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Achievement Events
// ═══════════════════════════════════════════════════════════════════════════

// AchievementUnlockedEvent is emitted exactly once per (user, achievement).
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID    string    `json:"achievement_id"`
	Name             string    `json:"name"`
	ExperienceReward int64     `json:"experience_reward"`
	UnlockedAt       time.Time `json:"unlocked_at"`
}

// Payload implements Event interface.
func (e AchievementUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"achievement_id":    e.AchievementID,
		"name":              e.Name,
		"experience_reward": e.ExperienceReward,
		"unlocked_at":       e.UnlockedAt.Format(time.RFC3339),
	}
}

// NewAchievementUnlockedEvent creates a new AchievementUnlockedEvent.
func NewAchievementUnlockedEvent(userID UserID, id AchievementID, name string, reward int64, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:        NewBaseEvent(EventAchievementUnlocked, userID, at),
		AchievementID:    id.String(),
		Name:             name,
		ExperienceReward: reward,
		UnlockedAt:       at,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Habit Events
// ═══════════════════════════════════════════════════════════════════════════

// RoutineSubscriptionEvent is emitted when a routine is subscribed or unsubscribed.
type RoutineSubscriptionEvent struct {
	BaseEvent
	RoutineID string   `json:"routine_id"`
	Changed   []string `json:"changed"`
}

// Payload implements Event interface.
func (e RoutineSubscriptionEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"routine_id": e.RoutineID,
		"changed":    e.Changed,
	}
}

// NewRoutineSubscribedEvent creates an event listing the activities that were added.
func NewRoutineSubscribedEvent(userID UserID, routineID RoutineID, added []ActivityID, at time.Time) RoutineSubscriptionEvent {
	return RoutineSubscriptionEvent{
		BaseEvent: NewBaseEvent(EventRoutineSubscribed, userID, at),
		RoutineID: routineID.String(),
		Changed:   activityStrings(added),
	}
}

// NewRoutineUnsubscribedEvent creates an event listing the activities that were removed.
func NewRoutineUnsubscribedEvent(userID UserID, routineID RoutineID, removed []ActivityID, at time.Time) RoutineSubscriptionEvent {
	return RoutineSubscriptionEvent{
		BaseEvent: NewBaseEvent(EventRoutineUnsubscribed, userID, at),
		RoutineID: routineID.String(),
		Changed:   activityStrings(removed),
	}
}

// HabitChangedEvent is emitted when an individual habit is added or removed.
type HabitChangedEvent struct {
	BaseEvent
	ActivityID string `json:"activity_id"`
	TimeSlot   string `json:"time_slot,omitempty"`
}

// Payload implements Event interface.
func (e HabitChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"activity_id": e.ActivityID,
		"time_slot":   e.TimeSlot,
	}
}

// NewHabitAddedEvent creates a new habit.added event.
func NewHabitAddedEvent(userID UserID, activityID ActivityID, slot string, at time.Time) HabitChangedEvent {
	return HabitChangedEvent{
		BaseEvent:  NewBaseEvent(EventHabitAdded, userID, at),
		ActivityID: activityID.String(),
		TimeSlot:   slot,
	}
}

// NewHabitRemovedEvent creates a new habit.removed event.
func NewHabitRemovedEvent(userID UserID, activityID ActivityID, at time.Time) HabitChangedEvent {
	return HabitChangedEvent{
		BaseEvent:  NewBaseEvent(EventHabitRemoved, userID, at),
		ActivityID: activityID.String(),
	}
}

func activityStrings(ids []ActivityID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Source        string          `json:"source,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Event rebuilds a transportable event from the envelope. The concrete
// event struct is not restored; handlers read the payload map.
func (e EventEnvelope) Event() (Event, error) {
	payload := make(map[string]interface{})
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return nil, err
		}
	}
	return envelopeEvent{envelope: e, payload: payload}, nil
}

type envelopeEvent struct {
	envelope EventEnvelope
	payload  map[string]interface{}
}

func (e envelopeEvent) EventType() EventType            { return e.envelope.Type }
func (e envelopeEvent) OccurredAt() time.Time           { return e.envelope.Timestamp }
func (e envelopeEvent) AggregateID() string             { return e.envelope.AggregateID }
func (e envelopeEvent) Payload() map[string]interface{} { return e.payload }

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
