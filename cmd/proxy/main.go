package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boedegoat/flyctf/pkg/compose"
	"github.com/boedegoat/flyctf/pkg/log"
	"github.com/boedegoat/flyctf/pkg/metrics"
	"github.com/boedegoat/flyctf/pkg/proxy"
	"github.com/boedegoat/flyctf/pkg/readiness"
	"github.com/boedegoat/flyctf/pkg/registry"
)

// DefaultChallengesDir is where challenge bundles are mounted.
const DefaultChallengesDir = "/app/challenges"

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flyctf-proxy",
	Short: "flyctf-proxy - TCP front-end for containerized CTF challenges",
	Long: `flyctf-proxy exposes one public TCP port per challenge found on disk.
When a client connects, the challenge's containers are started on demand,
probed for readiness, and the connection is spliced to the challenge's
main service.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"flyctf-proxy version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("log-level", os.Getenv("LOG_LEVEL"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	// Initialize logging before command execution
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.ParseLevel(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Discover challenges and serve their public ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		challengesDir, _ := cmd.Flags().GetString("challenges-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		metrics.Init()
		metrics.ReportVersion(Version)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := registry.Discover(challengesDir)
		metrics.ChallengesDiscovered.Set(float64(reg.Len()))
		metrics.ReportComponent("registry", true, fmt.Sprintf("%d challenges", reg.Len()))

		if metricsAddr != "" {
			go func() {
				if err := metrics.StartMetricsServer(metricsAddr); err != nil {
					log.WithComponent("metrics").Error().Err(err).Msg("Metrics server stopped")
				}
			}()
		}

		engine := readiness.NewEngine(compose.NewDriver())
		supervisor := proxy.NewSupervisor(reg, engine)

		if err := supervisor.Run(ctx); err != nil {
			return fmt.Errorf("supervisor failed: %w", err)
		}
		log.Info("Proxy shutting down")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("challenges-dir", DefaultChallengesDir, "Directory containing challenge bundles")
	serveCmd.Flags().String("metrics-addr", ":9100", "Address for metrics and health endpoints (empty to disable)")
}
