package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jasonhayes1987/rlagents/internal/config"
	"github.com/jasonhayes1987/rlagents/internal/her"
	"github.com/jasonhayes1987/rlagents/internal/replay"
	"github.com/jasonhayes1987/rlagents/internal/server"
	"github.com/jasonhayes1987/rlagents/internal/service"
	"github.com/jasonhayes1987/rlagents/internal/spaces"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "replayd",
	Short: "Experience replay buffer service",
	Long: `replayd serves a single experience replay buffer over HTTP.

Actors post transitions and finished trajectories; learners draw
prioritized batches and feed TD errors back to reshape the sampling
distribution.`,
	RunE: runServer,
}

func init() {
	cfg = config.Default()

	// Serving
	rootCmd.Flags().StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP listen address")

	// Environment shapes
	rootCmd.Flags().StringVar(&cfg.EnvID, "env-id", cfg.EnvID, "Environment ID the buffer serves")
	rootCmd.Flags().IntSliceVar(&cfg.ObsShape, "obs-shape", cfg.ObsShape, "Observation shape")
	rootCmd.Flags().IntSliceVar(&cfg.ActShape, "act-shape", cfg.ActShape, "Action shape")
	rootCmd.Flags().IntSliceVar(&cfg.GoalShape, "goal-shape", cfg.GoalShape, "Goal shape (empty disables goal storage)")

	// Buffer settings
	rootCmd.Flags().StringVar(&cfg.BufferClass, "buffer-class", cfg.BufferClass, "Buffer class (ReplayBuffer or PrioritizedReplayBuffer)")
	rootCmd.Flags().IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "Buffer capacity in transitions")
	rootCmd.Flags().Float64Var(&cfg.Alpha, "alpha", cfg.Alpha, "Priority exponent")
	rootCmd.Flags().Float64Var(&cfg.BetaStart, "beta-start", cfg.BetaStart, "Initial importance-sampling exponent")
	rootCmd.Flags().IntVar(&cfg.BetaIter, "beta-iter", cfg.BetaIter, "Updates to anneal beta to 1.0")
	rootCmd.Flags().StringVar(&cfg.Priority, "priority", cfg.Priority, "Prioritization strategy (proportional or rank)")
	rootCmd.Flags().Float64Var(&cfg.Epsilon, "epsilon", cfg.Epsilon, "Priority floor")

	// Hindsight relabeling
	rootCmd.Flags().StringVar(&cfg.HERStrategy, "her-strategy", cfg.HERStrategy, "HER strategy (final, future, none; empty disables)")
	rootCmd.Flags().IntVar(&cfg.HERNumGoals, "her-num-goals", cfg.HERNumGoals, "Relabeled goals per step under the future strategy")
	rootCmd.Flags().Float64Var(&cfg.HERTolerance, "her-tolerance", cfg.HERTolerance, "Goal distance tolerance for sparse reward")

	rootCmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "RNG seed")

	// Logging
	rootCmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	// Bind flags to viper for environment variable support
	viper.BindPFlags(rootCmd.Flags())
	viper.SetEnvPrefix("REPLAYD")
	viper.AutomaticEnv()
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	env := &spaces.StaticEnv{
		EnvID:       cfg.EnvID,
		Observation: spaces.Space{Shape: cfg.ObsShape},
		Action:      spaces.Space{Shape: cfg.ActShape},
	}

	buffer, err := replay.FromConfig(env, cfg.BufferConfig(), cfg.Seed, logger)
	if err != nil {
		return fmt.Errorf("failed to build buffer: %w", err)
	}

	var relay *her.Relay
	if cfg.HERStrategy != "" {
		relay, err = her.NewRelay(env, buffer, her.Strategy(cfg.HERStrategy),
			cfg.HERNumGoals, cfg.HERTolerance, her.SparseReward, cfg.Seed, logger)
		if err != nil {
			return fmt.Errorf("failed to build relay: %w", err)
		}
	}

	svc := service.New(buffer, relay, logger)
	h := server.NewServer(svc, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("buffer_class", cfg.BufferClass).
			Str("env_id", cfg.EnvID).
			Str("run_id", svc.RunID()).
			Msg("replay HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
		close(done)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	<-done
	logger.Info().Msg("replay server stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
