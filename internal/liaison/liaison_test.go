package liaison

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironrun/provisiond/internal/config"
)

func newHolder(apiURL string) *config.Holder {
	return config.NewHolder(&config.Config{
		APIURL:         apiURL,
		LookupTimeout:  2 * time.Second,
		LookupInterval: 10 * time.Millisecond,
	})
}

func TestLookupSuccessCapturesTokenFromConfigBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/lookup", r.URL.Path)
		assert.Equal(t, "10.0.0.5:9999", r.URL.Query().Get("addresses"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"node": map[string]any{"uuid": "node-uuid-1"},
			"config": map[string]any{
				"heartbeat_timeout":    float64(60),
				"agent_token":          "session-token-1",
				"agent_token_required": true,
			},
		})
	}))
	defer srv.Close()

	l := New(newHolder(srv.URL), time.Second)
	err := l.Lookup(context.Background(), "10.0.0.5", 9999, "")
	require.NoError(t, err)

	assert.Equal(t, "node-uuid-1", l.Node().UUID)
	assert.True(t, l.Required())
	assert.True(t, l.Valid("session-token-1"))
	assert.False(t, l.Valid("wrong-token"))
}

func TestLookupSuccessCapturesLegacyTopLevelToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"node":  map[string]any{"uuid": "node-uuid-1"},
			"token": "session-token-1",
		})
	}))
	defer srv.Close()

	l := New(newHolder(srv.URL), time.Second)
	err := l.Lookup(context.Background(), "10.0.0.5", 9999, "")
	require.NoError(t, err)

	assert.True(t, l.Required())
	assert.True(t, l.Valid("session-token-1"))
}

func TestLookupFallsBackToPreInjectedTokenWhenRequiredButUnset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"node":   map[string]any{"uuid": "node-uuid-1"},
			"config": map[string]any{"agent_token_required": true},
		})
	}))
	defer srv.Close()

	holder := config.NewHolder(&config.Config{
		APIURL:                srv.URL,
		LookupTimeout:         2 * time.Second,
		LookupInterval:        10 * time.Millisecond,
		PreInjectedAgentToken: "preshared",
	})
	l := New(holder, time.Second)
	err := l.Lookup(context.Background(), "10.0.0.5", 9999, "")
	require.NoError(t, err)
	assert.True(t, l.Required())
	assert.True(t, l.Valid("preshared"))
}

func TestLookupFailsWhenTokenRequiredButUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"node":   map[string]any{"uuid": "node-uuid-1"},
			"config": map[string]any{"agent_token_required": true},
		})
	}))
	defer srv.Close()

	l := New(newHolder(srv.URL), time.Second)
	err := l.Lookup(context.Background(), "10.0.0.5", 9999, "")
	require.Error(t, err)
}

func TestLookupRetriesOnConflictThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"node": map[string]any{"uuid": "node-2"}})
	}))
	defer srv.Close()

	l := New(newHolder(srv.URL), time.Second)
	l.conflictSteps = []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
	err := l.Lookup(context.Background(), "10.0.0.5", 9999, "")
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestLookupGivesUpAfterDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	holder := config.NewHolder(&config.Config{
		APIURL:         srv.URL,
		LookupTimeout:  50 * time.Millisecond,
		LookupInterval: 10 * time.Millisecond,
	})
	l := New(holder, time.Second)
	l.conflictSteps = []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
	err := l.Lookup(context.Background(), "10.0.0.5", 9999, "")
	require.Error(t, err)
}

func TestStandaloneSetNodeInfoRequiresUUID(t *testing.T) {
	l := New(newHolder(""), time.Second)
	err := l.StandaloneSetNodeInfo("")
	require.Error(t, err)
}

func TestStandaloneSetNodeInfoUsesPreInjectedToken(t *testing.T) {
	holder := config.NewHolder(&config.Config{PreInjectedAgentToken: "preshared"})
	l := New(holder, time.Second)
	require.NoError(t, l.StandaloneSetNodeInfo("node-3"))
	assert.Equal(t, "node-3", l.Node().UUID)
	assert.True(t, l.Valid("preshared"))
}

func TestHeartbeatTimeoutOrDefaultFallsBack(t *testing.T) {
	l := New(newHolder(""), time.Second)
	assert.Equal(t, 42*time.Second, l.HeartbeatTimeoutOrDefault(42*time.Second))
}
