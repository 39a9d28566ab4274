package history

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ide3/internal/config"
	"ide3/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSQLiteSink_RecordAndLoad(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenSQLite(filepath.Join(t.TempDir(), "state", "history.db"), "ollama", quietLogger())
	require.NoError(t, err)
	defer sink.Close()

	start := time.Now().UTC().Truncate(time.Second)
	sink.Record(ctx, Entry{SessionID: "s1", Role: "user", Content: "hi", CreatedAt: start})
	sink.Record(ctx, Entry{SessionID: "s1", Role: "assistant", Content: "hello", CreatedAt: start})
	sink.Record(ctx, Entry{SessionID: "s2", Role: "user", Content: "other", CreatedAt: start.Add(time.Minute)})

	msgs, started, err := sink.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []session.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}, msgs)
	assert.True(t, start.Equal(started))

	latest, err := sink.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", latest)
}

func TestSQLiteSink_UnknownSession(t *testing.T) {
	sink, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"), "ollama", quietLogger())
	require.NoError(t, err)
	defer sink.Close()

	_, _, err = sink.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = sink.Latest(context.Background())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSQLiteSink_RecordAfterCloseDoesNotPanic(t *testing.T) {
	sink, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"), "ollama", quietLogger())
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	assert.NotPanics(t, func() {
		sink.Record(context.Background(), Entry{SessionID: "s", Role: "user", Content: "x"})
	})
}

func TestRESTSink_PostsEntry(t *testing.T) {
	var got Entry
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/conversations", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := NewRESTSink(srv.URL+"/", "anon-key", srv.Client(), quietLogger())
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	sink.Record(context.Background(), Entry{SessionID: "abc", Role: "user", Content: "hi", CreatedAt: at})
	require.NoError(t, sink.Close())

	assert.Equal(t, Entry{SessionID: "abc", Role: "user", Content: "hi", CreatedAt: at}, got)
	assert.Equal(t, "anon-key", headers.Get("apikey"))
	assert.Equal(t, "Bearer anon-key", headers.Get("Authorization"))
}

func TestRESTSink_FailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no table", http.StatusNotFound)
	}))
	defer srv.Close()

	sink := NewRESTSink(srv.URL, "k", srv.Client(), quietLogger())
	err := sink.post(context.Background(), Entry{SessionID: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	assert.NotPanics(t, func() { sink.Record(context.Background(), Entry{SessionID: "s"}) })
	require.NoError(t, sink.Close())
}

func TestRESTSink_HungEndpointDoesNotBlockRecord(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	sink := NewRESTSink(srv.URL, "k", srv.Client(), quietLogger())
	sink.timeout = 100 * time.Millisecond

	start := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	sink.Record(ctx, Entry{SessionID: "s", Role: "user"})
	sink.Record(ctx, Entry{SessionID: "s", Role: "assistant"})
	cancel()
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, sink.Close())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpen(t *testing.T) {
	cfg := config.Default()
	s, err := Open(cfg, "ollama", quietLogger())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, s)

	cfg.HistorySink = config.SinkREST
	_, err = Open(cfg, "ollama", quietLogger())
	assert.Error(t, err)

	cfg.HistoryURL, cfg.HistoryKey = "https://x.supabase.co", "k"
	s, err = Open(cfg, "ollama", quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &RESTSink{}, s)

	cfg.HistorySink = config.SinkSQLite
	cfg.HistoryDB = filepath.Join(t.TempDir(), "h.db")
	s, err = Open(cfg, "ollama", quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteSink{}, s)
	require.NoError(t, s.Close())

	cfg.HistorySink = "kafka"
	_, err = Open(cfg, "ollama", quietLogger())
	assert.Error(t, err)
}
