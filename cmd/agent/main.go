package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironrun/provisiond/internal/agent"
	"github.com/ironrun/provisiond/internal/config"
	"github.com/ironrun/provisiond/internal/log"
	"github.com/ironrun/provisiond/internal/metrics"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "agent",
	Short:   "In-RAM bare-metal provisioning agent",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("agent version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent and serve the director-facing API until shut down",
	RunE:  runStart,
}

func init() {
	f := startCmd.Flags()
	f.String("api-url", "", "Director API base URL (skip to discover via mDNS)")
	f.String("listen-host", "0.0.0.0", "Host to bind the agent's HTTP API on")
	f.Int("listen-port", 9999, "Port to bind the agent's HTTP API on")
	f.String("advertise-host", "", "Address to report back to the director (auto-detected if unset)")
	f.Int("advertise-port", 9999, "Port to report back to the director")
	f.String("network-interface", "", "Network interface to prefer when auto-detecting the advertise address")
	f.Int("ip-lookup-attempts", 6, "Retries when resolving the advertise address via `ip route get`")
	f.Duration("ip-lookup-sleep", 10*time.Second, "Delay between advertise-address lookup attempts")
	f.Duration("lookup-timeout", 5*time.Minute, "Overall deadline for the director lookup handshake")
	f.Duration("lookup-interval", 10*time.Second, "Base delay between lookup retries")
	f.Bool("standalone", false, "Skip director lookup; require --node-uuid instead")
	f.String("node-uuid", "", "Node UUID (required with --standalone, optional otherwise)")
	f.String("agent-token", "", "Preinjected agent token (used only if the director never supplies one)")
	f.Duration("hardware-initialization-delay", 0, "Delay before the first hardware probe, to let late-enumerating devices settle")
	f.String("inspection-callback-url", "", "If set, an out-of-band inspection POST is made to this URL at startup")
	f.Bool("tls-enabled", false, "Serve the agent's HTTP API over TLS")
	f.String("tls-cert-file", "", "TLS certificate path")
	f.String("tls-key-file", "", "TLS private key path")
	f.Bool("deep-image-inspection", false, "Enable deep (qemu-img-based) image format inspection before writing")
	f.Duration("http-request-timeout", 60*time.Second, "Timeout for individual HTTP requests to the director")
	f.String("metrics-host", "127.0.0.1", "Host to bind the Prometheus metrics endpoint on")
	f.Int("metrics-port", 9991, "Port to bind the Prometheus metrics endpoint on")
}

func runStart(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	cfg := &config.Config{}

	cfg.APIURL, _ = f.GetString("api-url")
	cfg.ListenHost, _ = f.GetString("listen-host")
	cfg.ListenPort, _ = f.GetInt("listen-port")
	cfg.MetricsHost, _ = f.GetString("metrics-host")
	cfg.MetricsPort, _ = f.GetInt("metrics-port")
	cfg.AdvertiseHost, _ = f.GetString("advertise-host")
	cfg.AdvertisePort, _ = f.GetInt("advertise-port")
	cfg.NetworkInterface, _ = f.GetString("network-interface")
	cfg.IPLookupAttempts, _ = f.GetInt("ip-lookup-attempts")
	cfg.IPLookupSleep, _ = f.GetDuration("ip-lookup-sleep")
	cfg.LookupTimeout, _ = f.GetDuration("lookup-timeout")
	cfg.LookupInterval, _ = f.GetDuration("lookup-interval")
	cfg.Standalone, _ = f.GetBool("standalone")
	cfg.PreInjectedAgentToken, _ = f.GetString("agent-token")
	cfg.HardwareInitializationDelay, _ = f.GetDuration("hardware-initialization-delay")
	cfg.InspectionCallbackURL, _ = f.GetString("inspection-callback-url")
	cfg.TLSEnabled, _ = f.GetBool("tls-enabled")
	cfg.TLSCertFile, _ = f.GetString("tls-cert-file")
	cfg.TLSKeyFile, _ = f.GetString("tls-key-file")
	cfg.DeepImageInspection, _ = f.GetBool("deep-image-inspection")
	cfg.HTTPRequestTimeout, _ = f.GetDuration("http-request-timeout")

	nodeUUID, _ := f.GetString("node-uuid")
	if cfg.Standalone && nodeUUID == "" {
		return fmt.Errorf("--node-uuid is required with --standalone")
	}

	holder := config.NewHolder(cfg)
	a := agent.New(Version, holder)

	metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.WithComponent("metrics").Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	log.WithComponent("agent").Info().Str("addr", metricsAddr).Msg("serving metrics")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.WithComponent("agent").Info().Msg("signal received, shutting down")
		cancel()
	}()

	if err := a.Run(ctx, nodeUUID); err != nil {
		return fmt.Errorf("agent run: %w", err)
	}
	return nil
}
