// Package history mirrors conversation messages to an optional persistent sink.
// Recording is best effort: a sink never fails the chat.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ide3/internal/config"
)

// Entry is one recorded message.
type Entry struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink receives every user and assistant message.
type Sink interface {
	Record(ctx context.Context, e Entry)
	Close() error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
func (Nop) Close() error                  { return nil }

// logFailure keeps sink errors out of the user's way.
func logFailure(logger *slog.Logger, sink string, e Entry, err error) {
	logger.Debug("History record failed",
		"sink", sink,
		"session_id", e.SessionID,
		"role", e.Role,
		"error", err,
	)
}

// Open builds the sink selected by cfg. backend is stored with new sessions.
func Open(cfg *config.Config, backend string, logger *slog.Logger) (Sink, error) {
	switch cfg.HistorySink {
	case config.SinkSQLite:
		s, err := OpenSQLite(cfg.HistoryDB, backend, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SinkREST:
		if cfg.HistoryURL == "" || cfg.HistoryKey == "" {
			return nil, fmt.Errorf("rest history sink needs historyUrl and historyKey")
		}
		return NewRESTSink(cfg.HistoryURL, cfg.HistoryKey, nil, logger), nil
	case config.SinkNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown history sink %q", cfg.HistorySink)
	}
}
