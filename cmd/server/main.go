package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"skill-forge/internal/agent"
	"skill-forge/internal/draft"
	"skill-forge/internal/promote"
	"skill-forge/internal/protocol"
	"skill-forge/internal/realtime"
	"skill-forge/internal/session"
	"skill-forge/internal/watcher"
)

const (
	shutdownTimeout   = 10 * time.Second
	externalTimeout   = 30 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := loadConfig()
	var debug bool

	cmd := &cobra.Command{
		Use:           "skill-forge",
		Short:         "Author Claude skills and plugins with a live agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Drafts directory")
	flags.StringVar(&cfg.PluginsDir, "plugins-dir", cfg.PluginsDir, "Installed plugins directory")
	flags.StringVar(&cfg.PluginAuthor, "author", cfg.PluginAuthor, "Author written into promoted manifests")
	flags.StringVar(&cfg.PluginMarketplace, "marketplace", cfg.PluginMarketplace, "Marketplace of promoted plugins")
	flags.StringVar(&cfg.ValidateCmd, "validate-cmd", cfg.ValidateCmd, "External validator run on promotion")

	cmd.AddCommand(
		serveCmd(&cfg),
		draftsCmd(&cfg),
		validateCmd(&cfg),
		promoteCmd(&cfg),
	)
	return cmd
}

func serveCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *cfg)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	flags.StringVar(&cfg.ClaudeBin, "claude-bin", cfg.ClaudeBin, "Agent executable")
	flags.StringVar(&cfg.StaticDir, "static-dir", cfg.StaticDir, "Frontend directory served at /")
	flags.Int64Var(&cfg.MaxUploadBytes, "max-upload-bytes", cfg.MaxUploadBytes, "Per-file upload ceiling")
	flags.IntVar(&cfg.MaxProcesses, "max-processes", cfg.MaxProcesses, "Concurrent agent processes (0 for unlimited)")
	flags.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Stop idle agent processes after this long (0 disables)")
	flags.DurationVar(&cfg.Heartbeat, "heartbeat", cfg.Heartbeat, "Stream keep-alive interval")
	return cmd
}

func openStore(cfg Config) (*draft.Store, error) {
	return draft.NewStore(cfg.DataDir, cfg.MaxUploadBytes)
}

func newPipeline(store *draft.Store, cfg Config) *promote.Pipeline {
	return promote.New(store, promote.Config{
		PluginsDir:  cfg.PluginsDir,
		Author:      cfg.PluginAuthor,
		Marketplace: cfg.PluginMarketplace,
		External:    promote.NewExternalValidator(cfg.ValidateCmd, externalTimeout),
	})
}

func serve(ctx context.Context, cfg Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	runner := agent.NewRunner(store, agent.Config{Binary: cfg.ClaudeBin})

	// The watcher reports through the manager, which is created after it.
	var sessions *session.Manager
	fileWatch := watcher.New(func(sessionID, dir string, fileCount int) {
		if sessions == nil {
			return
		}
		msg := protocol.MustMessage(protocol.TypeFilesChanged, protocol.FilesChangedPayload{
			Draft:     filepath.Base(dir),
			FileCount: fileCount,
		})
		if err := sessions.Notify(sessionID, msg); err != nil {
			log.Debug().Err(err).Str("sessionId", sessionID).Msg("Dropped file update")
		}
	})

	sessions = session.NewManager(runner, session.Options{
		IdleTimeout:  cfg.IdleTimeout,
		MaxProcesses: cfg.MaxProcesses,
		Watcher:      fileWatch,
	})

	rtServer := realtime.New(sessions, store, newPipeline(store, cfg), realtime.Config{
		Heartbeat: cfg.Heartbeat,
		StaticDir: cfg.StaticDir,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           rtServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Int("port", cfg.Port).
			Str("drafts", store.Root()).
			Str("plugins", cfg.PluginsDir).
			Msgf("Skill forge running on http://localhost:%d%s", cfg.Port, realtime.APIPrefix)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sessions.RunReaper(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")

		// Streams never finish on their own; closing sessions ends them.
		sessions.Shutdown()
		fileWatch.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
