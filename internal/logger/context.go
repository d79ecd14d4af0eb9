// Package logger provides utilities for binding a [zerolog.Logger] to a
// [context.Context], and for fatal error reporting.
package logger

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InContext returns a copy of ctx carrying l, retrievable with
// [FromContext] or [zerolog.Ctx].
func InContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger bound to ctx by [InContext], or the
// global logger if none was bound.
func FromContext(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return log.Logger
}

// Fatal logs msg at fatal level using the logger bound to ctx, then exits
// the process with status 1.
func Fatal(ctx context.Context, msg string) {
	FromContext(ctx).Fatal().Msg(msg)
}

// FatalError logs msg and err at fatal level using the global logger, then
// exits the process with status 1.
func FatalError(msg string, err error) {
	log.Fatal().Err(err).Msg(msg)
}

// FatalErrorContext logs msg and err at fatal level using the logger bound
// to ctx, then exits the process with status 1.
func FatalErrorContext(ctx context.Context, msg string, err error) {
	FromContext(ctx).Fatal().Err(err).Msg(msg)
}
