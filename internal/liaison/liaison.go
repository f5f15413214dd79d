// Package liaison implements C8: director URL resolution, advertise
// address resolution, the lookup retry loop, session-token capture,
// and API version negotiation. It is the one component that knows how
// the agent first finds and introduces itself to the director.
//
// Grounded on pkg/manager/token.go's issue/validate shape for
// SessionToken semantics, and pkg/worker/worker.go's
// requestCertificate/Start flow of "exchange identity with the control
// plane, then remember what it told us" — generalized from mTLS
// certificate issuance to an HTTP lookup/token exchange.
package liaison

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/ironrun/provisiond/internal/backoff"
	"github.com/ironrun/provisiond/internal/config"
	"github.com/ironrun/provisiond/internal/discovery"
	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/log"
	"github.com/ironrun/provisiond/internal/metrics"
)

const maxKnownAPIVersion = "1.9"

// NodeIdentity is the node record a successful lookup returns.
type NodeIdentity struct {
	UUID       string         `json:"uuid"`
	Properties map[string]any `json:"properties"`
	DriverInfo map[string]any `json:"driver_info"`
}

// lookupReply is the raw decode target for GET /v1/lookup.
type lookupReply struct {
	Node   NodeIdentity   `json:"node"`
	Config map[string]any `json:"config"`

	// HeartbeatTimeout can also arrive at the top level on older
	// director API versions; both paths are read (see SPEC_FULL.md §7,
	// decision 2).
	HeartbeatTimeout *float64 `json:"heartbeat_timeout,omitempty"`
	Token            string   `json:"token,omitempty"`
}

// Liaison resolves the director, performs the lookup handshake once,
// and afterward serves as both internal/heartbeat.Director and
// internal/httpapi.TokenState for the rest of the process's life.
type Liaison struct {
	httpClient *http.Client
	holder     *config.Holder

	apiURL        string
	apiVersion    string
	node          *NodeIdentity
	sessionToken  string
	tokenRequired bool

	// conflictSteps is the escalating backoff series applied to 409
	// lookup replies, overridable by tests.
	conflictSteps []time.Duration
}

var defaultConflictSteps = []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second}

// New creates a Liaison seeded from holder's current configuration.
// httpRequestTimeout bounds every individual HTTP call the liaison
// makes (discovery excepted, which has its own timeout).
func New(holder *config.Holder, httpRequestTimeout time.Duration) *Liaison {
	return &Liaison{
		httpClient:    &http.Client{Timeout: httpRequestTimeout},
		conflictSteps: defaultConflictSteps,
		holder:        holder,
		apiURL:        holder.Load().APIURL,
		apiVersion:    maxKnownAPIVersion,
	}
}

// BaseURL and APIVersionHeader satisfy internal/heartbeat.Director.
func (l *Liaison) BaseURL() string          { return l.apiURL }
func (l *Liaison) APIVersionHeader() string { return l.apiVersion }

// Required and Valid satisfy internal/httpapi.TokenState.
func (l *Liaison) Required() bool { return l.tokenRequired }
func (l *Liaison) Valid(presented string) bool {
	if !l.tokenRequired {
		return true
	}
	return l.sessionToken != "" && presented == l.sessionToken
}

// Node returns the cached node identity, or nil before lookup succeeds.
func (l *Liaison) Node() *NodeIdentity { return l.node }

// ResolveDirector fills in l.apiURL when no --api-url was configured,
// by querying mDNS discovery. Any configuration overrides the reply
// carries are folded into the holder immediately.
func (l *Liaison) ResolveDirector(ctx context.Context) error {
	if l.apiURL != "" {
		return nil
	}

	cfg := l.holder.Load()
	result, err := discovery.Lookup(ctx, cfg.LookupTimeout)
	if err != nil {
		return errs.NewLookupNodeError(fmt.Sprintf("mdns discovery failed: %s", err))
	}
	l.apiURL = result.APIURL

	if len(result.Overrides) > 0 {
		merged, err := config.ApplyOverrides(cfg, result.Overrides)
		if err != nil {
			return err
		}
		l.holder.Store(merged)
	}
	return nil
}

// ResolveAdvertiseAddress determines the local address the director
// should call back on. An explicit --advertise-host wins outright;
// otherwise it shells out to `ip route get <director-host>` and reads
// the "src" field from the reply, retrying ip_lookup_attempts times at
// ip_lookup_sleep intervals before giving up.
func (l *Liaison) ResolveAdvertiseAddress(ctx context.Context) (string, error) {
	cfg := l.holder.Load()
	if cfg.AdvertiseHost != "" {
		return cfg.AdvertiseHost, nil
	}

	directorHost, err := hostOf(l.apiURL)
	if err != nil {
		return "", errs.NewLookupAgentIPError(err.Error())
	}

	attempts := cfg.IPLookupAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		addr, err := ipRouteGetSource(ctx, directorHost)
		if err == nil {
			return addr, nil
		}
		lastErr = err
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return "", errs.NewLookupAgentIPError(ctx.Err().Error())
			case <-time.After(cfg.IPLookupSleep):
			}
		}
	}
	return "", errs.NewLookupAgentIPError(fmt.Sprintf("exhausted %d attempts: %s", attempts, lastErr))
}

func ipRouteGetSource(ctx context.Context, destHost string) (string, error) {
	out, err := exec.CommandContext(ctx, "ip", "route", "get", destHost).Output()
	if err != nil {
		return "", fmt.Errorf("ip route get %s: %w", destHost, err)
	}
	fields := strings.Fields(string(out))
	for i, f := range fields {
		if f == "src" && i+1 < len(fields) {
			return fields[i+1], nil
		}
	}
	return "", fmt.Errorf("ip route get %s: no src field in %q", destHost, string(out))
}

func hostOf(rawURL string) (string, error) {
	rest := rawURL
	if idx := strings.Index(rest, "://"); idx != -1 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/"); idx != -1 {
		rest = rest[:idx]
	}
	if idx := strings.LastIndex(rest, ":"); idx != -1 {
		rest = rest[:idx]
	}
	if rest == "" {
		return "", fmt.Errorf("could not extract host from %q", rawURL)
	}
	return rest, nil
}

// Lookup performs the GET /v1/lookup handshake, retrying every failed
// attempt (connection errors, any non-200 status including 409, and
// undecodable replies) with backoff until lookupTimeout elapses.
// advertiseAddr and advertisePort are reported to the director as where
// to reach this agent back; nodeUUID is optional (standalone/virtual
// media callers may already know it).
func (l *Liaison) Lookup(ctx context.Context, advertiseAddr string, advertisePort int, nodeUUID string) error {
	cfg := l.holder.Load()
	deadline := time.Now().Add(cfg.LookupTimeout)
	retryBackoff := backoff.NewEscalating(cfg.LookupInterval, cfg.LookupInterval, cfg.LookupInterval*2)
	conflictBackoff := backoff.NewEscalating(l.conflictSteps...)

	addresses := advertiseAddr
	if advertisePort != 0 {
		addresses = fmt.Sprintf("%s:%d", advertiseAddr, advertisePort)
	}

	var lastErr error
	for {
		metrics.LookupAttempts.Inc()
		reply, err := l.lookupOnce(ctx, addresses, nodeUUID)
		if err == nil {
			if applyErr := l.applyLookupReply(reply); applyErr != nil {
				return applyErr
			}
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		if time.Now().After(deadline) {
			return errs.NewLookupNodeError(fmt.Sprintf("deadline exceeded, last error: %s", lastErr))
		}

		var sleep time.Duration
		if _, isConflict := err.(conflictError); isConflict {
			sleep = conflictBackoff.Next()
		} else {
			sleep = retryBackoff.Next()
		}
		log.WithComponent("liaison").Warn().Err(err).Dur("sleep", sleep).Msg("lookup failed, retrying")
		select {
		case <-ctx.Done():
			return errs.NewLookupNodeError(ctx.Err().Error())
		case <-time.After(sleep):
		}
	}
}

func retryable(err error) bool {
	re, ok := err.(errs.RESTError)
	if !ok {
		return true // connection/transport errors are always retried
	}
	return re.Code() >= 500
}

// conflictError marks a 409 lookup response, so the retry loop can use
// the dedicated {5,10,30}s escalating series instead of the generic
// LookupInterval-based schedule.
type conflictError struct {
	errs.RESTError
}

func (l *Liaison) lookupOnce(ctx context.Context, addresses, nodeUUID string) (*lookupReply, error) {
	u := strings.TrimSuffix(l.apiURL, "/") + "/v1/lookup?addresses=" + addresses
	if nodeUUID != "" {
		u += "&node_uuid=" + nodeUUID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errs.NewLookupNodeError(err.Error())
	}
	req.Header.Set("X-OpenStack-Ironic-API-Version", l.apiVersion)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, errs.NewLookupNodeError(err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusConflict {
		return nil, conflictError{errs.NewLookupNodeError("director reported conflict (409), node may be mid-transition")}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.NewLookupNodeError(fmt.Sprintf("director returned status %d: %s", resp.StatusCode, string(body)))
	}

	var reply lookupReply
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&reply); err != nil {
		return nil, errs.NewLookupNodeError(fmt.Sprintf("could not decode lookup reply: %s", err))
	}
	return &reply, nil
}

func (l *Liaison) applyLookupReply(reply *lookupReply) error {
	node := reply.Node
	l.node = &node

	cfg := l.holder.Load()
	if reply.HeartbeatTimeout != nil {
		cfg = mustOverride(cfg, "heartbeat_timeout", *reply.HeartbeatTimeout)
	}
	if len(reply.Config) > 0 {
		merged, err := config.ApplyOverrides(cfg, reply.Config)
		if err != nil {
			return err
		}
		cfg = merged
	}
	l.holder.Store(cfg)

	switch {
	case cfg.SessionToken != "":
		// documented shape: config.agent_token / config.agent_token_required.
		l.sessionToken = cfg.SessionToken
		l.tokenRequired = cfg.TokenRequired
	case reply.Token != "":
		// legacy top-level token, kept for older director API versions.
		l.sessionToken = reply.Token
		l.tokenRequired = true
	case cfg.TokenRequired:
		if cfg.PreInjectedAgentToken == "" {
			return errs.NewLookupNodeError("director set agent_token_required but returned no agent_token, and no --agent-token was preinjected")
		}
		l.sessionToken = cfg.PreInjectedAgentToken
		l.tokenRequired = true
	}
	return nil
}

func mustOverride(cfg *config.Config, key string, value float64) *config.Config {
	merged, err := config.ApplyOverrides(cfg, map[string]any{key: value})
	if err != nil {
		return cfg
	}
	return merged
}

// StandaloneSetNodeInfo is the minimal --standalone substitute for a
// real lookup: it trusts the caller-supplied node UUID and any
// preinjected agent token, skipping the HTTP round trip entirely.
func (l *Liaison) StandaloneSetNodeInfo(nodeUUID string) error {
	if strings.TrimSpace(nodeUUID) == "" {
		return errs.NewInvalidCommandParamsError("node_uuid is required in standalone mode")
	}
	l.node = &NodeIdentity{UUID: nodeUUID}
	cfg := l.holder.Load()
	if cfg.PreInjectedAgentToken != "" {
		l.sessionToken = cfg.PreInjectedAgentToken
		l.tokenRequired = true
	}
	return nil
}

// HeartbeatTimeoutOrDefault reads the post-lookup heartbeat_timeout,
// falling back to def when lookup hasn't populated it (e.g. standalone
// mode, or a director that omitted the field both ways).
func (l *Liaison) HeartbeatTimeoutOrDefault(def time.Duration) time.Duration {
	cfg := l.holder.Load()
	if cfg.HeartbeatTimeout > 0 {
		return cfg.HeartbeatTimeout
	}
	return def
}
