package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-parley/internal/config"
	"github.com/23skdu/longbow-parley/internal/logger"
	"github.com/23skdu/longbow-parley/internal/registry"
	"github.com/23skdu/longbow-parley/internal/server"
)

var (
	serveAddr        string
	serveGRPCAddr    string
	serveSessionTTL  time.Duration
	serveTurnTimeout time.Duration
	serveOrigins     []string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve chat sessions over HTTP and websockets",
		Long: `Start a server that hosts chat sessions.

Session options given on the command line or in --config become the base
for every session; each create request may override them.
Idle sessions are closed after --session-ttl.`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&serveGRPCAddr, "grpc-addr", ":8081", "gRPC health listen address (empty disables)")
	cmd.Flags().DurationVar(&serveSessionTTL, "session-ttl", registry.DefaultTTL, "Close sessions idle for this long")
	cmd.Flags().DurationVar(&serveTurnTimeout, "turn-timeout", 0, "Abort a turn after this long (0 disables)")
	cmd.Flags().StringSliceVar(&serveOrigins, "allowed-origins", nil, "CORS origins allowed to call the API")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	base, err := collectOptions(cmd)
	if err != nil {
		return err
	}
	// Fail fast on a base configuration no session could be created from.
	store, err := config.New(base)
	if err != nil {
		return err
	}
	closer, err := logger.SetupFile(store.Text("log_level"), logFormat, store.Text("log"))
	if err != nil {
		return err
	}
	defer closer.Close()

	logger.Log.Info("starting parley server", "version", Version, "addr", serveAddr, "model", store.Text("model"))

	reg := registry.New(serveSessionTTL, registry.ReferenceFactory(base))
	defer reg.Close()

	cfg := server.DefaultConfig()
	cfg.Addr = serveAddr
	cfg.GRPCAddr = serveGRPCAddr
	cfg.TurnTimeout = serveTurnTimeout
	cfg.AllowedOrigins = serveOrigins

	if err := server.New(cfg, reg).Start(cmd.Context()); err != nil {
		return err
	}
	logger.Log.Info("server stopped")
	return nil
}
