package achievement

import (
	"fmt"
	"sort"
	"time"

	"github.com/alem-hub/habit-engine/internal/domain/shared"
)

// Achievement is a fixed catalog entry.
type Achievement struct {
	ID               shared.AchievementID
	Name             string
	Description      string
	Emoji            string
	Requirement      Requirement
	ExperienceReward int64
}

// Unlock is the per-user, one-way unlock state of an achievement.
type Unlock struct {
	UserID           shared.UserID
	AchievementID    shared.AchievementID
	UnlockedAt       time.Time
	ExperienceReward int64
}

// Catalog is an immutable, ordered set of achievements.
// Order: ascending threshold, then kind, then id.
type Catalog struct {
	entries []Achievement
	byID    map[shared.AchievementID]int
}

// NewCatalog validates entries and sorts them into evaluation order.
func NewCatalog(entries ...Achievement) (*Catalog, error) {
	sorted := make([]Achievement, len(entries))
	copy(sorted, entries)

	byID := make(map[shared.AchievementID]int, len(sorted))
	for _, a := range sorted {
		if a.ID == "" {
			return nil, shared.WrapError("achievement", "NewCatalog", shared.ErrInvalidInput, "empty achievement id", nil)
		}
		if a.Requirement == nil || a.Requirement.Threshold() <= 0 {
			return nil, shared.WrapError("achievement", "NewCatalog", shared.ErrInvalidInput,
				fmt.Sprintf("achievement %q has no valid requirement", a.ID), nil)
		}
		if a.ExperienceReward < 0 {
			return nil, shared.WrapError("achievement", "NewCatalog", shared.ErrNegativeValue,
				fmt.Sprintf("achievement %q has a negative reward", a.ID), nil)
		}
		if _, dup := byID[a.ID]; dup {
			return nil, shared.WrapError("achievement", "NewCatalog", shared.ErrInvalidInput,
				fmt.Sprintf("duplicate achievement id %q", a.ID), nil)
		}
		byID[a.ID] = 0
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := sorted[i].Requirement, sorted[j].Requirement
		if ri.Threshold() != rj.Threshold() {
			return ri.Threshold() < rj.Threshold()
		}
		if ri.Kind() != rj.Kind() {
			return ri.Kind() < rj.Kind()
		}
		return sorted[i].ID < sorted[j].ID
	})
	for i, a := range sorted {
		byID[a.ID] = i
	}

	return &Catalog{entries: sorted, byID: byID}, nil
}

// MustCatalog is NewCatalog that panics. For static catalogs.
func MustCatalog(entries ...Achievement) *Catalog {
	c, err := NewCatalog(entries...)
	if err != nil {
		panic(err)
	}
	return c
}

// All returns the entries in evaluation order.
func (c *Catalog) All() []Achievement {
	out := make([]Achievement, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Get returns an entry by id.
func (c *Catalog) Get(id shared.AchievementID) (Achievement, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Achievement{}, false
	}
	return c.entries[i], true
}

// HistoryWindow returns how many days of ledger history evaluation needs.
func (c *Catalog) HistoryWindow() int {
	window := 1
	for _, a := range c.entries {
		if pw, ok := a.Requirement.(PerfectWeek); ok && pw.N > window {
			window = pw.N
		}
	}
	return window
}

// DefaultCatalog returns the built-in achievement catalog.
func DefaultCatalog() *Catalog {
	return MustCatalog(
		Achievement{ID: "streak-3", Name: "Kindling", Emoji: "🕯️",
			Description: "Practice three days in a row", Requirement: StreakDays{N: 3}, ExperienceReward: 30},
		Achievement{ID: "completions-5", Name: "First Steps", Emoji: "👣",
			Description: "Complete five activities", Requirement: TotalCompletions{N: 5}, ExperienceReward: 25},
		Achievement{ID: "level-5", Name: "Rooted", Emoji: "🌱",
			Description: "Reach level five", Requirement: LevelReached{N: 5}, ExperienceReward: 100},
		Achievement{ID: "streak-7", Name: "Week of Devotion", Emoji: "🔥",
			Description: "Practice seven days in a row", Requirement: StreakDays{N: 7}, ExperienceReward: 75},
		Achievement{ID: "perfect-week", Name: "Perfect Week", Emoji: "✨",
			Description: "Complete every scheduled habit for seven days", Requirement: PerfectWeek{N: 7}, ExperienceReward: 150},
		Achievement{ID: "level-10", Name: "Steadfast", Emoji: "🌳",
			Description: "Reach level ten", Requirement: LevelReached{N: 10}, ExperienceReward: 250},
		Achievement{ID: "streak-30", Name: "Month of Faithfulness", Emoji: "🌙",
			Description: "Practice thirty days in a row", Requirement: StreakDays{N: 30}, ExperienceReward: 300},
		Achievement{ID: "completions-50", Name: "Devoted", Emoji: "📿",
			Description: "Complete fifty activities", Requirement: TotalCompletions{N: 50}, ExperienceReward: 150},
		Achievement{ID: "streak-100", Name: "Hundred Days", Emoji: "💯",
			Description: "Practice one hundred days in a row", Requirement: StreakDays{N: 100}, ExperienceReward: 1000},
		Achievement{ID: "completions-500", Name: "Pillar", Emoji: "🏛️",
			Description: "Complete five hundred activities", Requirement: TotalCompletions{N: 500}, ExperienceReward: 750},
	)
}
