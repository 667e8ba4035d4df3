// Package logging provides the module's default slog loggers. Components
// take a *slog.Logger rather than reaching for a global; these defaults are
// for callers that don't care to configure one.
package logging

import (
	"context"
	"log/slog"
	"os"
)

var (
	defaultLevel slog.LevelVar
	defaultLog   = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: &defaultLevel,
	}))
	disabledLog = slog.New(noopHandler{})
)

// DefaultLogger returns a logger that writes to stderr at the level set with
// SetDefaultLevel.
func DefaultLogger() *slog.Logger { return defaultLog }

// SetDefaultLevel adjusts the level of the default logger.
func SetDefaultLevel(l slog.Level) { defaultLevel.Set(l) }

// DisabledLogger returns a logger that discards everything.
func DisabledLogger() *slog.Logger { return disabledLog }

// noopHandler is an slog.Handler that reports every level as disabled.
type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (noopHandler) WithAttrs([]slog.Attr) slog.Handler        { return noopHandler{} }
func (noopHandler) WithGroup(string) slog.Handler             { return noopHandler{} }
