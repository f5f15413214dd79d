package heartbeat

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDirector struct{ baseURL string }

func (d stubDirector) BaseURL() string          { return d.baseURL }
func (d stubDirector) APIVersionHeader() string { return "1.9" }

func TestSendOnceSuccess(t *testing.T) {
	var gotPath, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.Header.Get("X-OpenStack-Ironic-API-Version")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := New(stubDirector{baseURL: srv.URL}, "node-1", Request{CallbackURL: "http://agent/callback"}, time.Second, 5*time.Second)
	err := h.sendOnce()
	require.NoError(t, err)
	assert.Equal(t, "/v1/heartbeat/node-1", gotPath)
	assert.Equal(t, "1.9", gotVersion)
}

func TestSendOnceConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	h := New(stubDirector{baseURL: srv.URL}, "node-1", Request{}, time.Second, 5*time.Second)
	err := h.sendOnce()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflict")
}

func TestSendOnceUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := New(stubDirector{baseURL: srv.URL}, "node-1", Request{}, time.Second, 5*time.Second)
	err := h.sendOnce()
	require.Error(t, err)
}

func TestForceCoalescesToOnePendingWakeup(t *testing.T) {
	h := New(stubDirector{baseURL: "http://unused"}, "node-1", Request{}, time.Hour, time.Second)
	h.Force()
	h.Force()
	h.Force()
	assert.Len(t, h.force, 1)
}

func TestStopIsIdempotent(t *testing.T) {
	h := New(stubDirector{baseURL: "http://unused"}, "node-1", Request{}, time.Hour, time.Second)
	h.Start()
	assert.NotPanics(t, func() {
		h.Stop()
		h.Stop()
	})
}
