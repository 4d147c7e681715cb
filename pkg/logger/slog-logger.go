package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

type loggerImpl struct {
	logger *slog.Logger
}

type Params struct {
	Env string

	LevelLocal slog.Level
	LevelProd  slog.Level

	// Output defaults to os.Stdout.
	Output io.Writer
}

// New builds a zerolog-backed slog logger for the given environment.
func New(params Params) (Logger, error) {
	var (
		logLevel  slog.Level
		logWriter io.Writer
	)

	out := params.Output
	if out == nil {
		out = os.Stdout
	}

	switch params.Env {
	case EnvProduction:
		logLevel = params.LevelProd
		logWriter = out
	case EnvLocal:
		logLevel = params.LevelLocal
		logWriter = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.TimeOnly,
		}
	default:
		return nil, fmt.Errorf("unknown app environment: %q", params.Env)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.ErrorStackFieldName = "stack"

	slogzerolog.SourceKey = "source"
	slogzerolog.ErrorKeys = []string{"error", "err"}

	baseLogger := zerolog.New(logWriter).With().Timestamp().Logger()

	handler := slogzerolog.Option{
		Level:     logLevel,
		Logger:    &baseLogger,
		AddSource: true,
	}.NewZerologHandler()

	return &loggerImpl{
		logger: slog.New(handler),
	}, nil
}

func MustNew(params Params) Logger {
	l, err := New(params)
	if err != nil {
		panic(err)
	}

	return l
}

// NewNop returns a logger that drops every record.
func NewNop() Logger {
	nop := zerolog.Nop()

	return &loggerImpl{
		logger: slog.New(slogzerolog.Option{
			Level:  slog.LevelError + 1,
			Logger: &nop,
		}.NewZerologHandler()),
	}
}

func (c *loggerImpl) handle(level slog.Level, input string, fields ...any) {
	ctx := context.Background()
	if !c.logger.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	record := slog.NewRecord(time.Now(), level, input, pcs[0])
	record.Add(fields...)

	_ = c.logger.Handler().Handle(ctx, record)
}

func (c *loggerImpl) Info(input string, fields ...any) {
	c.handle(slog.LevelInfo, input, fields...)
}

func (c *loggerImpl) Warn(input string, fields ...any) {
	c.handle(slog.LevelWarn, input, fields...)
}

func (c *loggerImpl) Error(input string, fields ...any) {
	c.handle(slog.LevelError, input, fields...)
}

func (c *loggerImpl) Debug(input string, fields ...any) {
	c.handle(slog.LevelDebug, input, fields...)
}

func (c *loggerImpl) With(args ...any) Logger {
	return &loggerImpl{
		logger: c.logger.With(args...),
	}
}
