package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keshon/chatmind/internal/ai"
	"github.com/keshon/chatmind/internal/config"
	"github.com/keshon/chatmind/internal/discord"
	"github.com/keshon/chatmind/internal/imagegen"
	"github.com/keshon/chatmind/internal/logging"
	"github.com/keshon/chatmind/internal/mind"
	"github.com/keshon/chatmind/internal/persona"
	"github.com/keshon/chatmind/internal/storage"
)

const version = "0.3.0"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatmind",
		Short:         "Discord chat bot backed by a local language model",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("env", "", "env file to load (default .env when present)")
	root.PersistentFlags().Bool("verbose", false, "debug logging with console output")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and start answering",
		RunE:  runBot,
	}
	runCmd.Flags().Duration("grace", 10*time.Second, "how long responses in progress may finish on shutdown")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and ping the backends",
		RunE:  checkBackends,
	}

	root.AddCommand(runCmd, checkCmd)
	root.RunE = runBot
	root.Flags().AddFlagSet(runCmd.Flags())
	return root
}

// setup loads the configuration and logger shared by every subcommand.
func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	envFile, _ := cmd.Root().PersistentFlags().GetString("env")
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFile, verbose)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func loadPersona(cfg config.Config) (persona.Persona, error) {
	if cfg.PersonaPath == "" {
		return persona.Default(cfg.AIName), nil
	}
	return persona.Load(cfg.PersonaPath)
}

func newBackend(cfg config.Config, log *zap.Logger) (ai.Backend, error) {
	base, err := ai.New(cfg.BackendOptions())
	if err != nil {
		return nil, err
	}
	return ai.Cleaned{Backend: ai.NewRetrying(base, cfg.BackendRetries+1, log.Named("backend"))}, nil
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if cfg.DiscordToken == "" {
		return errors.New("CHATMIND_DISCORD_TOKEN is required")
	}
	grace, _ := cmd.Flags().GetDuration("grace")

	p, err := loadPersona(cfg)
	if err != nil {
		return err
	}
	backend, err := newBackend(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkCtx, cancel := context.WithTimeout(ctx, cfg.HealthTimeout)
	if err := backend.HealthCheck(checkCtx); err != nil {
		log.Warn("backend is not reachable yet", zap.String("url", cfg.BackendURL), zap.Error(err))
	}
	cancel()

	opts := discord.Options{CommandCache: filepath.Join(filepath.Dir(cfg.StoragePath), "commands")}
	if vo, ok := cfg.VisionOptions(); ok {
		captioner, err := ai.NewCaptioner(vo, cfg.VisionPrompt)
		if err != nil {
			return fmt.Errorf("vision: %w", err)
		}
		opts.Captioner = captioner
	}
	bot, err := discord.New(cfg.DiscordToken, opts, log)
	if err != nil {
		return err
	}

	builder, err := persona.NewBuilder(p, bot, backend, cfg.ContextTokens, log)
	if err != nil {
		return err
	}
	mindCfg, err := cfg.Mind(p.Wakewords, builder.SpeakerTemplate(), builder.BotPrefix())
	if err != nil {
		return err
	}

	store, err := storage.Open(storage.Config{
		FilePath:         cfg.StoragePath,
		AutoSaveInterval: 10 * time.Second,
		BackupCount:      3,
		Logger:           log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to save channel state", zap.Error(err))
		}
	}()

	deps := mind.Deps{Transport: bot, Backend: backend, Prompts: builder, Store: store}
	if ic, ok := cfg.ImageConfig(); ok {
		images, err := imagegen.New(ic, nil)
		if err != nil {
			return fmt.Errorf("image generation: %w", err)
		}
		deps.Images = images
	}
	runner, err := mind.NewRunner(mindCfg, deps, log)
	if err != nil {
		return err
	}
	if err := bot.Attach(runner); err != nil {
		return err
	}

	log.Info("starting bot", zap.String("persona", p.Name), zap.String("backend", cfg.Backend), zap.String("version", version))
	runErr := bot.Run(ctx)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), grace)
	defer cancelShutdown()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Warn("responses cut short by shutdown", zap.Error(err))
	}
	log.Info("bot stopped")
	return runErr
}

func checkBackends(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	p, err := loadPersona(cfg)
	if err != nil {
		return err
	}
	backend, err := newBackend(cfg, log)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.HealthTimeout)
	defer cancel()
	if err := backend.HealthCheck(ctx); err != nil {
		return fmt.Errorf("backend %s at %s: %w", cfg.Backend, cfg.BackendURL, err)
	}
	if n, err := backend.CountTokens(ctx, p.Description); err == nil {
		log.Info("token counting available", zap.Int("persona_tokens", n))
	}
	log.Info("configuration ok", zap.String("persona", p.Name), zap.String("backend", cfg.Backend), zap.Bool("discord_token", cfg.DiscordToken != ""))
	return nil
}
