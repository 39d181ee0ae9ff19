package cli

import (
	"strings"

	"github.com/alem-hub/habit-engine/internal/application/command"
	"github.com/alem-hub/habit-engine/internal/application/query"
)

// RecordCmd records a completion.
type RecordCmd struct {
	User     string `arg:"" help:"User ID."`
	Activity string `arg:"" help:"Activity ID."`
	Date     string `help:"Completion date (YYYY-MM-DD). Defaults to today." short:"d"`
	Points   int64  `help:"Points, used only when the catalog does not know the activity."`
	Timezone string `help:"IANA timezone to move the user's day boundary to. Ignored once the user is active on the current local day." name:"tz"`
	All      bool   `help:"Unlock every satisfied achievement, not just the first."`
}

func (c *RecordCmd) Run(ctx *Context) error {
	a, err := ctx.App()
	if err != nil {
		return err
	}

	res, err := a.Commands.RecordCompletion.Handle(ctx.Ctx, command.RecordCompletionCommand{
		UserID:      c.User,
		ActivityID:  c.Activity,
		Points:      c.Points,
		Date:        c.Date,
		Timezone:    c.Timezone,
		EvaluateAll: c.All,
	})
	if err != nil {
		return err
	}

	return ctx.emit(res, func() {
		if res.AlreadyCompletedToday {
			ctx.printf("Already completed %s on %s\n", res.ActivityID, res.Date)
			return
		}
		ctx.printf("✓ %s on %s: +%d XP (total %d, level %d)\n",
			res.ActivityID, res.Date, res.PointsAwarded, res.TotalExperience, res.Level)
		if res.UnknownActivity {
			ctx.printf("  ! activity is not in the catalog, no points awarded\n")
		}
		if res.LeveledUp {
			ctx.printf("  ⬆ reached level %d\n", res.Level)
		}
		ctx.printf("  streak %d (longest %d)\n", res.CurrentStreak, res.LongestStreak)
		for _, u := range res.UnlockedAchievements {
			ctx.printf("  🏆 %s (+%d XP)\n", u.Name, u.ExperienceReward)
		}
		if len(res.UnlockedAchievements) == 0 && res.UnlockedAchievement != nil {
			ctx.printf("  🏆 %s (+%d XP)\n", res.UnlockedAchievement.Name, res.UnlockedAchievement.ExperienceReward)
		}
	})
}

// SubscribeCmd subscribes a user to a routine.
type SubscribeCmd struct {
	User    string `arg:"" help:"User ID."`
	Routine string `arg:"" help:"Routine ID."`
}

func (c *SubscribeCmd) Run(ctx *Context) error {
	a, err := ctx.App()
	if err != nil {
		return err
	}

	res, err := a.Commands.SubscribeToRoutine.Handle(ctx.Ctx, command.SubscribeToRoutineCommand{
		UserID:    c.User,
		RoutineID: c.Routine,
	})
	if err != nil {
		return err
	}

	return ctx.emit(res, func() {
		ctx.printf("✓ Subscribed to %s: %d added, %d already present\n", res.RoutineID, len(res.Added), len(res.Skipped))
	})
}

// UnsubscribeCmd removes a routine's habits.
type UnsubscribeCmd struct {
	User    string `arg:"" help:"User ID."`
	Routine string `arg:"" help:"Routine ID."`
}

func (c *UnsubscribeCmd) Run(ctx *Context) error {
	a, err := ctx.App()
	if err != nil {
		return err
	}

	res, err := a.Commands.UnsubscribeFromRoutine.Handle(ctx.Ctx, command.UnsubscribeFromRoutineCommand{
		UserID:    c.User,
		RoutineID: c.Routine,
	})
	if err != nil {
		return err
	}

	return ctx.emit(res, func() {
		ctx.printf("✓ Unsubscribed from %s: %d removed\n", res.RoutineID, len(res.Removed))
	})
}

// TodayCmd lists today's habits.
type TodayCmd struct {
	User string `arg:"" help:"User ID."`
}

func (c *TodayCmd) Run(ctx *Context) error {
	a, err := ctx.App()
	if err != nil {
		return err
	}

	res, err := a.Queries.GetTodaysHabits.Handle(ctx.Ctx, query.GetTodaysHabitsQuery{UserID: c.User})
	if err != nil {
		return err
	}

	return ctx.emit(res, func() {
		ctx.printf("%s  %d/%d done\n", res.Date, res.CompletedCount, res.TotalCount)
		for _, group := range res.Slots {
			ctx.printf("%s\n", strings.ToUpper(group.TimeSlot))
			for _, h := range group.Habits {
				mark := " "
				if h.Completed {
					mark = "x"
				}
				name := h.Name
				if name == "" {
					name = h.ActivityID
				}
				ctx.printf("  [%s] %-24s %3d XP\n", mark, name, h.Points)
			}
		}
	})
}

// SummaryCmd shows a user's progress.
type SummaryCmd struct {
	User string `arg:"" help:"User ID."`
}

func (c *SummaryCmd) Run(ctx *Context) error {
	a, err := ctx.App()
	if err != nil {
		return err
	}

	res, err := a.Queries.GetProgressSummary.Handle(ctx.Ctx, query.GetProgressSummaryQuery{UserID: c.User, SkipCache: true})
	if err != nil {
		return err
	}

	return ctx.emit(res, func() {
		ctx.printf("Level %d  %d XP  (%d/%d to next)\n",
			res.Level, res.TotalExperience, res.LevelProgress.Earned, res.LevelProgress.Needed)
		ctx.printf("Streak %d  longest %d  completions %d\n",
			res.CurrentStreak, res.LongestStreak, res.TotalCompletions)
		ctx.printf("Achievements %d/%d\n", res.UnlockedCount, len(res.Achievements))
		for _, ach := range res.Achievements {
			if ach.Unlocked {
				ctx.printf("  ✓ %s\n", ach.Name)
			}
		}
	})
}

// NextCmd shows the closest locked achievement.
type NextCmd struct {
	User string `arg:"" help:"User ID."`
}

func (c *NextCmd) Run(ctx *Context) error {
	a, err := ctx.App()
	if err != nil {
		return err
	}

	res, err := a.Queries.GetNextAchievement.Handle(ctx.Ctx, query.GetNextAchievementQuery{UserID: c.User})
	if err != nil {
		return err
	}

	return ctx.emit(res, func() {
		if !res.Found || res.Achievement == nil {
			ctx.printf("Every achievement is unlocked\n")
			return
		}
		ctx.printf("Next: %s  %d/%d (%.0f%%)\n", res.Achievement.Name, res.Current, res.Target, res.Percent)
	})
}
