// Package cli implements the habitctl commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/alem-hub/habit-engine/config"
	"github.com/alem-hub/habit-engine/internal/app"
)

// Context is handed to every command's Run method.
type Context struct {
	Ctx    context.Context
	Config *config.Config
	Out    io.Writer

	// JSON switches output to indented JSON.
	JSON bool

	// NewApp builds the engine on first use. Tests replace it.
	NewApp func(ctx context.Context, cfg *config.Config) (*app.App, error)

	app *app.App
}

// App returns the engine, building it once.
func (c *Context) App() (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	build := c.NewApp
	if build == nil {
		build = func(ctx context.Context, cfg *config.Config) (*app.App, error) {
			return app.New(ctx, cfg, app.Options{})
		}
	}
	a, err := build(c.Ctx, c.Config)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

// Close releases the engine if it was built.
func (c *Context) Close() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

func (c *Context) printf(format string, args ...any) {
	fmt.Fprintf(c.Out, format, args...)
}

// emit prints v as JSON in JSON mode, otherwise calls text.
func (c *Context) emit(v any, text func()) error {
	if !c.JSON {
		text()
		return nil
	}
	enc := json.NewEncoder(c.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
