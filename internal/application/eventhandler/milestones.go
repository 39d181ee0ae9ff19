package eventhandler

import (
	"github.com/alem-hub/habit-engine/internal/domain/shared"
	"github.com/alem-hub/habit-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// MILESTONES
// Level ups, unlocks and streak resets are what a notification service
// would pick up; the engine itself only logs them and counts them.
// ═══════════════════════════════════════════════════════════════════════════

// EventRecorder receives every committed event, e.g. for metrics.
type EventRecorder interface {
	RecordEvent(event shared.Event)
}

// MilestoneHandler logs user milestones and forwards events to a recorder.
type MilestoneHandler struct {
	recorder EventRecorder
	log      *logger.Logger
}

// NewMilestoneHandler creates a MilestoneHandler. recorder may be nil.
func NewMilestoneHandler(recorder EventRecorder, log *logger.Logger) *MilestoneHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &MilestoneHandler{
		recorder: recorder,
		log:      log.With(logger.Component("milestones")),
	}
}

// Handle processes one event.
func (h *MilestoneHandler) Handle(event shared.Event) error {
	if h.recorder != nil {
		h.recorder.RecordEvent(event)
	}

	user := logger.UserID(event.AggregateID())
	switch e := event.(type) {
	case shared.LevelUpEvent:
		h.log.Info("level up", user,
			logger.Int("old_level", e.OldLevel),
			logger.Int("new_level", e.NewLevel),
			logger.XPAmount(e.TotalExperience),
		)
	case shared.AchievementUnlockedEvent:
		h.log.Info("achievement unlocked", user,
			logger.AchievementID(e.AchievementID),
			logger.XPAmount(e.ExperienceReward),
		)
	case shared.StreakResetEvent:
		h.log.Info("streak reset", user,
			logger.Int("previous_streak", e.PreviousStreak),
			logger.Int("days_missed", e.DaysMissed),
		)
	default:
		h.log.Debug("event", user, logger.String("event_type", string(event.EventType())))
	}
	return nil
}

// Register subscribes the handler to every event.
func (h *MilestoneHandler) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(h.Handle)
}
