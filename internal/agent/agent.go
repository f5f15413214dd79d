// Package agent implements C9: the process lifecycle that wires the
// hardware registry, dispatcher, liaison, heartbeater, and HTTP server
// together, from startup through the serve loop to clean shutdown.
//
// Grounded on pkg/worker/worker.go's Start/Stop/Run shape: build
// collaborators, launch background loops, block on the serve loop,
// tear down in reverse order.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ironrun/provisiond/internal/config"
	"github.com/ironrun/provisiond/internal/dispatcher"
	"github.com/ironrun/provisiond/internal/extensions"
	"github.com/ironrun/provisiond/internal/heartbeat"
	"github.com/ironrun/provisiond/internal/httpapi"
	"github.com/ironrun/provisiond/internal/hwgeneric"
	"github.com/ironrun/provisiond/internal/hwimage"
	"github.com/ironrun/provisiond/internal/hwmgr"
	"github.com/ironrun/provisiond/internal/liaison"
	"github.com/ironrun/provisiond/internal/log"
)

const defaultHeartbeatTimeout = 300 * time.Second

// Agent owns the process's collaborators for the duration of one run.
type Agent struct {
	version string
	holder  *config.Holder

	registry   *hwmgr.Registry
	dispatcher *dispatcher.Dispatcher
	liaison    *liaison.Liaison
	server     *httpapi.Server
	beater     *heartbeat.Heartbeater
}

// New builds an Agent from configuration and the hardware managers
// discovered on this host. extraManagers lets third-party plug-in
// packages register themselves ahead of the built-in
// GenericHardwareManager, which always sorts last by virtue of
// SupportGeneric being the lowest non-NONE level.
func New(version string, holder *config.Holder, extraManagers ...hwmgr.HardwareManager) *Agent {
	reg := hwmgr.New()
	candidates := append([]hwmgr.HardwareManager{hwgeneric.New(), hwimage.New()}, extraManagers...)
	reg.Freeze(candidates)

	d := dispatcher.New()
	d.Register(extensions.Standard(reg))
	d.Register(extensions.Flow(d))

	l := liaison.New(holder, holder.Load().HTTPRequestTimeout)
	d.Register(extensions.Poll(reg, l, holder.Load().Standalone))

	server := httpapi.New(d, l, version)
	d.Register(extensions.System(server))

	a := &Agent{
		version:    version,
		holder:     holder,
		registry:   reg,
		dispatcher: d,
		liaison:    l,
		server:     server,
	}
	return a
}

// Run executes the full startup sequence — resolve the director,
// resolve this host's advertise address, perform the lookup handshake
// (or the standalone substitute), start the heartbeater, then serve the
// HTTP API until the director or an operator command ends it — and
// tears down cleanly on return.
func (a *Agent) Run(ctx context.Context, nodeUUID string) error {
	logger := log.WithComponent("agent")
	cfg := a.holder.Load()

	if err := a.liaison.ResolveDirector(ctx); err != nil {
		return fmt.Errorf("resolve director: %w", err)
	}

	if cfg.HardwareInitializationDelay > 0 {
		logger.Info().Dur("delay", cfg.HardwareInitializationDelay).Msg("waiting for hardware initialization")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.HardwareInitializationDelay):
		}
	}

	advertiseHost, err := a.liaison.ResolveAdvertiseAddress(ctx)
	if err != nil {
		return fmt.Errorf("resolve advertise address: %w", err)
	}

	if cfg.Standalone {
		if err := a.liaison.StandaloneSetNodeInfo(nodeUUID); err != nil {
			return fmt.Errorf("standalone node info: %w", err)
		}
	} else {
		if err := a.liaison.Lookup(ctx, advertiseHost, cfg.AdvertisePort, nodeUUID); err != nil {
			return fmt.Errorf("lookup: %w", err)
		}
	}

	node := a.liaison.Node()
	heartbeatTimeout := a.liaison.HeartbeatTimeoutOrDefault(defaultHeartbeatTimeout)
	callback := heartbeat.Request{
		CallbackURL:  fmt.Sprintf("http://%s:%d", advertiseHost, cfg.AdvertisePort),
		AgentVersion: a.version,
	}
	var uuidForHeartbeat string
	if node != nil {
		uuidForHeartbeat = node.UUID
	}

	a.beater = heartbeat.New(a.liaison, uuidForHeartbeat, callback, heartbeatTimeout, cfg.HTTPRequestTimeout)
	a.dispatcher.Register(extensions.Rescue(a.server, a.beater))
	a.beater.Start()
	logger.Info().Str("node_uuid", uuidForHeartbeat).Dur("heartbeat_timeout", heartbeatTimeout).Msg("heartbeater started")

	listenAddr := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	err = a.server.Run(ctx, listenAddr)

	a.beater.Stop()
	logger.Info().Msg("agent stopped")
	return err
}

// Dispatcher exposes the command dispatcher for tests and callers that
// need to inject extra extensions before Run starts the serve loop.
func (a *Agent) Dispatcher() *dispatcher.Dispatcher { return a.dispatcher }

// Registry exposes the hardware manager registry for the same reason.
func (a *Agent) Registry() *hwmgr.Registry { return a.registry }
