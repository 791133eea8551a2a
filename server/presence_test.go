package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type presenceRecorder struct {
	mu    sync.Mutex
	calls []struct {
		path, auth, device string
	}
}

func (p *presenceRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		p.mu.Lock()
		p.calls = append(p.calls, struct{ path, auth, device string }{
			r.URL.Path, r.Header.Get("Authorization"), body["deviceName"],
		})
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (p *presenceRecorder) snapshot() []struct{ path, auth, device string } {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]struct{ path, auth, device string }, len(p.calls))
	copy(out, p.calls)
	return out
}

func TestPresence_HeartbeatThenOffline(t *testing.T) {
	rec := &presenceRecorder{}
	ts := httptest.NewServer(rec.handler())
	defer ts.Close()

	p := NewPresence(ts.URL, "token-123", "workstation")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// The first heartbeat goes out immediately.
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("presence did not stop")
	}

	calls := rec.snapshot()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, "/api/devices/heartbeat", calls[0].path)
	assert.Equal(t, "Bearer token-123", calls[0].auth)
	assert.Equal(t, "workstation", calls[0].device)
	assert.Equal(t, "/api/devices/offline", calls[len(calls)-1].path)
}

func TestPresence_NoDirectoryConfigured(t *testing.T) {
	p := NewPresence("", "token", "host")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("presence with no directory must return immediately")
	}
}

func TestPresence_UnreachableDirectoryIsNonFatal(t *testing.T) {
	p := NewPresence("http://127.0.0.1:1", "token", "host")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("presence did not stop after cancel")
	}
}
