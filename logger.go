package textgo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
)

// Logger is the slog.Logger a DB reports operations to. Successful reads and
// writes log at debug level, failures at error level.
type Logger struct {
	*slog.Logger
}

// NewLogger wraps handler. A nil handler logs text to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger logs JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger logs logfmt lines to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// WithTx returns a logger tagging every record with the transaction id.
func (l *Logger) WithTx(id uint64) *Logger {
	return &Logger{Logger: l.With(slog.Uint64("tx", id))}
}

func (l *Logger) done(ctx context.Context, op string, err error, attrs ...slog.Attr) {
	if err != nil {
		l.LogAttrs(ctx, slog.LevelError, op+" failed", append(attrs, slog.Any("error", err))...)
		return
	}
	l.LogAttrs(ctx, slog.LevelDebug, op+" completed", attrs...)
}

func (l *Logger) LogInsert(ctx context.Context, id uint64, err error) {
	l.done(ctx, "insert", err, slog.Uint64("doc_id", id))
}

func (l *Logger) LogDelete(ctx context.Context, id uint64, err error) {
	l.done(ctx, "delete", err, slog.Uint64("doc_id", id))
}

func (l *Logger) LogSearch(ctx context.Context, query string, limit, hits int, err error) {
	attrs := []slog.Attr{slog.String("query", query), slog.Int("limit", limit)}
	if err == nil {
		attrs = append(attrs, slog.Int("hits", hits))
	}
	l.done(ctx, "search", err, attrs...)
}

// LogCommit reports conflicts at warn level; callers are expected to retry them.
func (l *Logger) LogCommit(ctx context.Context, err error) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		l.LogAttrs(ctx, slog.LevelWarn, "commit conflict", slog.Uint64("doc_id", uint64(ce.DocID)))
		return
	}
	l.done(ctx, "commit", err)
}

func (l *Logger) LogFlush(ctx context.Context, err error) {
	l.done(ctx, "flush", err)
}

// LogBackup reports completed backups at info level.
func (l *Logger) LogBackup(ctx context.Context, info BackupInfo, err error) {
	if err != nil {
		l.done(ctx, "backup", err)
		return
	}
	l.LogAttrs(ctx, slog.LevelInfo, "backup completed",
		slog.Uint64("manifest", info.ManifestID),
		slog.Int("segments", info.Segments),
		slog.Int("files", info.Files),
		slog.Int64("bytes", info.Bytes),
		slog.Duration("duration", info.Duration),
	)
}
