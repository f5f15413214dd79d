/*
Package log provides structured logging for the agent using zerolog.

# Usage

Initializing the logger:

	import "github.com/ironrun/provisiond/internal/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("agent starting")
	log.Debug("probing hardware managers")
	log.Warn("heartbeat backoff engaged")
	log.Error("lookup with director failed")
	log.Fatal("cannot start without a node UUID") // exits process

Context loggers:

	commandLog := log.WithComponent("dispatcher").With().
		Str("command", "clean.erase_devices").Logger()
	commandLog.Info().Msg("accepted command")

	nodeLog := log.WithNodeUUID(nodeUUID)
	nodeLog.Info().Msg("lookup succeeded")

# Design patterns

Global logger: one package-level zerolog.Logger, initialized once via
Init, accessible from every package without being passed around.

Context loggers: WithComponent/WithCommand/WithNodeUUID return child
loggers carrying a fixed field, so call sites don't repeat it on every
line.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
