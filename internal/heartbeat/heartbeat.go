// Package heartbeat implements C7: a single background task that POSTs
// liveness to the director on a jittered schedule, backs off on
// failure, and exposes a force-beat fast path.
//
// Grounded on pkg/worker/worker.go's heartbeatLoop/sendHeartbeat
// ticker-goroutine-with-stopCh shape, replacing the fixed ticker with
// a jittered, backoff-aware schedule.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ironrun/provisiond/internal/backoff"
	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/log"
	"github.com/ironrun/provisiond/internal/metrics"
)

const (
	minJitter = 0.3
	maxJitter = 0.6
)

// Request is the body POSTed to /v1/heartbeat/{uuid}.
type Request struct {
	CallbackURL   string `json:"callback_url"`
	AgentToken    string `json:"agent_token,omitempty"`
	AgentVersion  string `json:"agent_version,omitempty"`
	AgentVerifyCA string `json:"agent_verify_ca,omitempty"`
}

// Director is the narrow outbound interface the heartbeater needs.
type Director interface {
	BaseURL() string
	APIVersionHeader() string
}

// Heartbeater owns the background liveness loop.
type Heartbeater struct {
	httpClient *http.Client
	director   Director
	nodeUUID   string
	callback   Request

	heartbeatTimeout time.Duration

	force    chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a Heartbeater for nodeUUID, POSTing callback on the
// schedule derived from heartbeatTimeout.
func New(director Director, nodeUUID string, callback Request, heartbeatTimeout time.Duration, httpRequestTimeout time.Duration) *Heartbeater {
	return &Heartbeater{
		httpClient:       &http.Client{Timeout: httpRequestTimeout},
		director:         director,
		nodeUUID:         nodeUUID,
		callback:         callback,
		heartbeatTimeout: heartbeatTimeout,
		force:            make(chan struct{}, 1),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// Start launches the background loop.
func (h *Heartbeater) Start() {
	go h.run()
}

// Stop signals the loop to exit and blocks until it has. Safe to call
// more than once (e.g. rescue.finalize_rescue stopping it early, then
// the lifecycle stopping it again on shutdown).
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}

// Force shortens the next interval to ~0. Multiple forces issued before
// the heartbeater wakes collapse to a single immediate beat: the
// buffered-1 channel only ever holds one pending wakeup.
func (h *Heartbeater) Force() {
	select {
	case h.force <- struct{}{}:
	default:
	}
}

func (h *Heartbeater) run() {
	defer close(h.done)
	logger := log.WithComponent("heartbeat")

	errBackoff := backoff.NewExponential(time.Second, 2.7, 300*time.Second)
	conflictBackoff := backoff.NewEscalating(5*time.Second, 10*time.Second, 30*time.Second)

	for {
		err := h.sendOnce()
		var sleep time.Duration
		switch {
		case err == nil:
			errBackoff.Reset()
			conflictBackoff.Reset()
			sleep = backoff.Jittered(h.heartbeatTimeout, minJitter, maxJitter)
		case errs.IsConflict(err):
			metrics.HeartbeatFailures.Inc()
			sleep = conflictBackoff.Next()
			logger.Warn().Err(err).Dur("sleep", sleep).Msg("director reported conflict, slowing down")
		default:
			metrics.HeartbeatFailures.Inc()
			sleep = errBackoff.Next()
			logger.Warn().Err(err).Dur("sleep", sleep).Msg("heartbeat failed")
		}

		select {
		case <-h.stop:
			return
		case <-h.force:
			continue
		case <-time.After(sleep):
		}
	}
}

func (h *Heartbeater) sendOnce() error {
	body, err := json.Marshal(h.callback)
	if err != nil {
		return errs.NewHeartbeatError(err.Error())
	}

	url := strings.TrimSuffix(h.director.BaseURL(), "/") + "/v1/heartbeat/" + h.nodeUUID
	timer := metrics.NewTimer()
	ctx, cancel := context.WithTimeout(context.Background(), h.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return errs.NewHeartbeatConnectionError(err.Error())
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("X-OpenStack-Ironic-API-Version", h.director.APIVersionHeader())

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return errs.NewHeartbeatConnectionError(err.Error())
	}
	defer resp.Body.Close()
	timer.ObserveDuration(metrics.HeartbeatLatency)
	metrics.HeartbeatsSent.Inc()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return errs.NewHeartbeatConflictError("director asked the agent to slow down")
	default:
		return errs.NewHeartbeatError(fmt.Sprintf("director returned status %d", resp.StatusCode))
	}
}
