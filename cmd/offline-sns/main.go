package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"offline-sns/internal/config"
	"offline-sns/internal/logging"
	"offline-sns/internal/simulator"
	"offline-sns/internal/telemetry"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	start := newStartCmd()
	rootCmd := &cobra.Command{
		Use:   "offline-sns",
		Short: "Local SNS simulator for serverless services",
		Long: `offline-sns serves the SNS Publish API locally and invokes the functions
of a serverless.yml whose sns events match the published topic.`,
		Version:      version,
		SilenceUsage: true,
		RunE:         start.RunE,
	}
	rootCmd.Flags().AddFlagSet(start.Flags())
	rootCmd.AddCommand(start, newVersionCmd())
	return rootCmd
}

type startFlags struct {
	host      string
	port      int
	config    string
	location  string
	httpsDir  string
	bus       string
	busListen []string
	logLevel  string
}

func newStartCmd() *cobra.Command {
	var f startFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, f)
			return run(cmd.Context(), cfg)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.host, "host", "o", "", "host to listen on, empty for all interfaces (SNS_HOST)")
	fs.IntVarP(&f.port, "port", "P", config.DefaultPort, "port to listen on (SNS_PORT)")
	fs.StringVarP(&f.config, "config", "c", "serverless.yml", "service description to read (SNS_CONFIG)")
	fs.StringVar(&f.location, "location", ".", "handler root relative to the service directory (SNS_LOCATION)")
	fs.StringVarP(&f.httpsDir, "https-protocol", "H", "", "directory with cert.pem and key.pem to serve https (SNS_HTTPS_DIR)")
	fs.StringVar(&f.bus, "bus", "memory", "dispatch bus: memory or libp2p (SNS_BUS)")
	fs.StringSliceVar(&f.busListen, "bus-listen", nil, "libp2p listen multiaddrs (SNS_BUS_LISTEN)")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level (SNS_LOG_LEVEL)")
	return cmd
}

// applyFlags overrides env values with the flags set on the command line.
func applyFlags(cmd *cobra.Command, cfg *config.Config, f startFlags) {
	fs := cmd.Flags()
	if fs.Changed("host") {
		cfg.Host = f.host
	}
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if fs.Changed("config") {
		cfg.ServiceFile = f.config
	}
	if fs.Changed("location") {
		cfg.Location = f.location
	}
	if fs.Changed("https-protocol") {
		cfg.HTTPSDir = f.httpsDir
	}
	if fs.Changed("bus") {
		cfg.Bus = f.bus
	}
	if fs.Changed("bus-listen") {
		cfg.BusListen = f.busListen
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
}

func run(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logging.NewDevelopment(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "offline-sns",
		Endpoint:    cfg.OtelEndpoint,
		Disabled:    !cfg.OtelEnabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Log("otel shutdown", err)
		}
	}()

	sim, err := simulator.New(ctx, simulator.Options{Config: cfg, Logger: logger, Output: os.Stdout})
	if err != nil {
		return err
	}
	if err := sim.Listen(); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = sim.Close(closeCtx)
		return err
	}

	<-ctx.Done()
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return sim.Close(closeCtx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("offline-sns version %s\n", version)
			fmt.Printf("  Go:       %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
