package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"bunny-chatter/internal/analytics"
	"bunny-chatter/internal/chat"
	"bunny-chatter/internal/llm"
	"bunny-chatter/internal/logging"
	"bunny-chatter/internal/metrics"
	"bunny-chatter/internal/persona"
	"bunny-chatter/internal/prompt"
	"bunny-chatter/internal/scheduler"
	"bunny-chatter/internal/server"
	"bunny-chatter/internal/storage"
	"bunny-chatter/internal/telegram"
)

func newRunCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Telegram and start chatting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if err := cfg.ValidateRun(); err != nil {
				return err
			}

			p, found, err := persona.Load(cfg.PersonaPath)
			if err != nil {
				return err
			}
			if !found {
				log.Info().Str("path", cfg.PersonaPath).Msg("persona file not found, using built-in persona")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			registry, closeStore, err := openRegistry(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			builder, err := prompt.NewBuilder(p.Directive)
			if err != nil {
				return err
			}

			client, err := llm.NewFactory(cfg).CreateClient(string(cfg.LLMProvider))
			if err != nil {
				return fmt.Errorf("creating llm client: %w", err)
			}
			log.Info().Str("provider", string(cfg.LLMProvider)).Str("model", cfg.OpenAIModel).Msg("LLM provider configured")

			promReg := prometheus.NewRegistry()
			promReg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(promReg)
			metrics.RegisterSessions(promReg, registry.Len)

			var rec storage.Recorder
			if cfg.InteractionLogPath != "" {
				fr, err := storage.NewFileRecorder(cfg.InteractionLogPath)
				if err != nil {
					log.Warn().Err(err).Msg("interaction log disabled")
				} else {
					rec = fr
				}
			}

			bot, err := telegram.New(cfg.TelegramBotToken, log)
			if err != nil {
				return err
			}

			pipeline := chat.New(chat.Deps{
				Sessions:  registry,
				Prompts:   builder,
				LLM:       client,
				Transport: bot,
				Persona:   p,
				Recorder:  rec,
				Metrics:   m,
				Log:       log.Sub("chat"),
			}, chat.Settings{
				MaxTokens:         cfg.MaxTokens,
				Temperature:       cfg.Temperature,
				CompletionTimeout: cfg.CompletionTimeout,
				ExtraProbability:  cfg.ExtraMessageProbability,
				DelayMin:          cfg.TypingDelayMin,
				DelayMax:          cfg.TypingDelayMax,
			})
			bot.SetHandler(pipeline)

			sched := scheduler.New(cfg.DigestSchedule, log)
			if rec != nil {
				sched.SetReportFunction(digestReport(rec, bot, cfg.AdminUserID, log.Sub("digest")))
			}
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()

			srv := server.New(cfg.HTTPAddr, p.Awake, registry, promReg, log)

			log.Info().Msg(p.Awake)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx) })
			g.Go(func() error { return bot.Run(gctx) })
			runErr := g.Wait()

			log.Info().Msg("draining in-flight replies")
			pipeline.Wait()
			log.Info().Int("sessions", registry.Len()).Msg("stopped")
			return runErr
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "listen address for the HTTP endpoints (overrides HTTP_ADDR)")
	return cmd
}

// digestReport summarizes the current UTC day and, when adminID is set,
// sends the summary to that chat.
func digestReport(rec storage.Recorder, t chat.Transport, adminID int64, log *logging.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		stats, err := analytics.Digest(rec, time.Now().UTC())
		if err != nil {
			return err
		}
		summary := stats.GenerateReportSummary()
		log.Info().
			Str("date", stats.Date).
			Int("messages", stats.TotalMessages).
			Int("users", stats.UniqueUsers).
			Int("failures", stats.Failures).
			Msg("daily digest")
		if details, err := stats.ToJSON(); err == nil {
			log.Debug().Str("stats", details).Msg("daily digest details")
		}
		if adminID == 0 {
			return nil
		}
		return t.SendText(ctx, adminID, summary)
	}
}
