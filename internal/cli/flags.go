package cli

import "github.com/alem-hub/habit-engine/config"

// FlagsCmd lists feature flags as loaded from the environment.
type FlagsCmd struct{}

type flagRow struct {
	Name           string `json:"name"`
	Enabled        bool   `json:"enabled"`
	RolloutPercent int    `json:"rollout_percent"`
	Description    string `json:"description"`
}

func (c *FlagsCmd) Run(ctx *Context) error {
	flags := ctx.Config.Features
	if flags == nil {
		flags = config.LoadFeatureFlags()
	}

	features := flags.GetAllFeatures()
	rows := make([]flagRow, 0, len(features))
	for _, f := range features {
		rows = append(rows, flagRow{
			Name:           f.Name,
			Enabled:        f.Enabled,
			RolloutPercent: f.RolloutPercent,
			Description:    f.Description,
		})
	}

	return ctx.emit(rows, func() {
		for _, r := range rows {
			state := "off"
			if r.Enabled {
				state = "on"
				if r.RolloutPercent < 100 {
					state = "partial"
				}
			}
			ctx.printf("%-26s %-7s %3d%%  %s\n", r.Name, state, r.RolloutPercent, r.Description)
		}
	})
}
