// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// AccountIDKey is the context key for the account being processed
	AccountIDKey contextKey = "account_id"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with context values extracted.
// Supports request_id and account_id from context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("request_id", requestID))}
	}

	if accountID, ok := ctx.Value(AccountIDKey).(string); ok && accountID != "" {
		newLogger = &Logger{Logger: newLogger.With(slog.String("account_id", accountID))}
	}

	return newLogger
}

// WithAccount returns a logger scoped to one account's sweep.
func (l *Logger) WithAccount(accountID uuid.UUID) *Logger {
	return &Logger{Logger: l.With(slog.String("account_id", accountID.String()))}
}

// WithContact returns a logger scoped to one contact's evaluation.
func (l *Logger) WithContact(contactID uuid.UUID) *Logger {
	return &Logger{Logger: l.With(slog.String("contact_id", contactID.String()))}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// SweepResult logs the outcome of one batch sweep.
func (l *Logger) SweepResult(evaluated, sent, paused, skipped int, durationMs float64) {
	l.Info("sweep_result",
		slog.Int("evaluated", evaluated),
		slog.Int("sent", sent),
		slog.Int("paused", paused),
		slog.Int("skipped", skipped),
		slog.Float64("duration_ms", durationMs),
	)
}

// SendAttempt logs one outbound send and the channel it was routed to.
func (l *Logger) SendAttempt(contactID uuid.UUID, method string, fallback bool, err error) {
	attrs := []any{
		slog.String("contact_id", contactID.String()),
		slog.String("method", method),
		slog.Bool("fallback", fallback),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		l.Warn("send_attempt", attrs...)
		return
	}
	l.Info("send_attempt", attrs...)
}

// BlockEvent logs a block detector decision for a contact.
func (l *Logger) BlockEvent(contactID uuid.UUID, probability int, blocked bool) {
	l.Info("block_event",
		slog.String("contact_id", contactID.String()),
		slog.Int("probability", probability),
		slog.Bool("blocked", blocked),
	)
}

// RateLimitExceeded logs when a client exceeds the HTTP rate limit.
func (l *Logger) RateLimitExceeded(ip, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", ip),
		slog.String("path", path),
	)
}
