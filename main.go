package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"interview-orchestrator/internal/api"
	"interview-orchestrator/internal/config"
	"interview-orchestrator/internal/console"
	"interview-orchestrator/internal/feedback"
	"interview-orchestrator/internal/interview"
	"interview-orchestrator/internal/metrics"
	"interview-orchestrator/internal/session"
	"interview-orchestrator/internal/storage"
	"interview-orchestrator/internal/telemetry"
)

func main() {
	if err := loadDotEnv(".env"); err != nil {
		slog.Error("failed to load .env file", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadDotEnv читает .env, если он есть. Отсутствие файла не ошибка.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// app - общие зависимости команд
type app struct {
	cfg     *config.AppConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	client  *api.Client
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "interview",
		Short:         "Run mock technical interviews from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default config.yaml)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newFeedbackCmd(&configPath))
	root.AddCommand(newRateCmd(&configPath))
	root.AddCommand(newExecCmd(&configPath))
	root.AddCommand(newArchiveCmd(&configPath))
	return root
}

func loadApp(configPath string) (*app, error) {
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	m := metrics.NewMetrics()
	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		client: api.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token,
			api.WithTimeout(cfg.Backend.Timeout),
			api.WithMetrics(m)),
	}, nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// logMetrics выводит счетчики при завершении команды
func (a *app) logMetrics() {
	s := a.metrics.GetSnapshot()
	a.logger.Debug("metrics",
		"sessions_started", s.SessionsStarted,
		"sessions_completed", s.SessionsCompleted,
		"questions_answered", s.QuestionsAnswered,
		"recording_attempts", s.RecordingAttempts,
		"auto_submits", s.AutoSubmits,
		"feedback_polls", s.FeedbackPolls,
		"api_calls_total", s.APICallsTotal,
		"api_calls_successful", s.APICallsSuccessful)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(configPath *string) *cobra.Command {
	var role, level, policyPath, videoPath string
	var skills []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new interview session in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			if videoPath != "" {
				a.cfg.Media.VideoFile = videoPath
			}
			if policyPath != "" {
				a.cfg.Policy.Path = policyPath
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			defer a.logMetrics()

			ctx, cancel := signalContext()
			defer cancel()
			return a.runInterview(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), session.StartRequest{
				Role:   role,
				Level:  level,
				Skills: skills,
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "target role, e.g. \"backend engineer\"")
	cmd.Flags().StringVar(&level, "level", "", "seniority level: junior|middle|senior")
	cmd.Flags().StringSliceVar(&skills, "skills", nil, "skills to focus on")
	cmd.Flags().StringVar(&policyPath, "policy", "", "interview policy YAML")
	cmd.Flags().StringVar(&videoPath, "video", "", "video file attached to each recording")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func (a *app) runInterview(ctx context.Context, in io.Reader, out io.Writer, req session.StartRequest) error {
	runID := uuid.NewString()
	logger := a.logger.With("run_id", runID)

	if a.cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(a.cfg.Telemetry.ServiceName, os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	policy := config.DefaultPolicy()
	if a.cfg.Policy.Path != "" {
		var err error
		if policy, err = config.Load(a.cfg.Policy.Path); err != nil {
			return err
		}
	}

	store, err := storage.Open(a.cfg.Storage.Driver, a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	camera, err := console.NewStaticCamera(a.cfg.Media.VideoFile)
	if err != nil {
		return err
	}

	var executor session.Executor
	if a.cfg.Executor.BaseURL != "" {
		executor = api.NewExecutor(a.cfg.Executor.BaseURL,
			api.WithTimeout(a.cfg.Executor.Timeout),
			api.WithMetrics(a.metrics))
	}

	recognizer := console.NewLineRecognizer()
	detector := console.NewPresenceDetector()
	printer := console.NewPrinter(out)

	ctrl := session.New(session.Deps{
		Backend:    a.client,
		Executor:   executor,
		Camera:     camera,
		Detector:   detector,
		Recognizer: recognizer,
		Store:      store,
		Metrics:    a.metrics,
		Logger:     logger,
	},
		session.WithNotifier(printer.Notify),
		session.WithPolicy(policy.GetMaxAttempts(), policy.GetDurations(), policy.GetPlaceholders()),
		session.WithTiming(session.Timing{
			Tick:         a.cfg.Timer.TickInterval,
			FaceSample:   a.cfg.Media.SampleInterval,
			RestartDelay: a.cfg.Transcription.RestartDelay,
			FeedbackPoll: a.cfg.Feedback.PollInterval,
		}),
	)
	defer ctrl.Close()

	fmt.Fprintln(out, "🚀 Запуск интервью...")
	if err := ctrl.Start(ctx, req); err != nil {
		return err
	}

	driver := console.NewDriver(ctrl, recognizer, detector, out, logger)
	if err := driver.Run(ctx, in); err != nil && ctx.Err() == nil {
		return err
	}

	snap := ctrl.Snapshot()
	fmt.Fprintf(out, "\nСессия %s: фаза %s, отчет %s\n", snap.Session.ID, snap.Session.Phase, snap.Feedback.Status)
	return nil
}

func newFeedbackCmd(configPath *string) *cobra.Command {
	var regenerate bool

	cmd := &cobra.Command{
		Use:   "feedback <session-id>",
		Short: "Wait for the feedback report of a finished session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.logMetrics()

			ctx, cancel := signalContext()
			defer cancel()

			changes := make(chan interview.FeedbackJob, 8)
			poller := feedback.NewPoller(a.client, feedback.Config{
				Interval: a.cfg.Feedback.PollInterval,
				Logger:   a.logger,
				Metrics:  a.metrics,
				OnChange: func(job interview.FeedbackJob) { changes <- job },
			})
			defer poller.Stop()

			if regenerate {
				if err := a.client.TriggerFeedback(ctx, args[0]); err != nil {
					return err
				}
			}
			poller.Start(ctx, args[0])

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case job := <-changes:
					_, _ = fmt.Fprintf(out, "status=%s\n", job.Status)
					if !job.Terminal() {
						continue
					}
					if job.Status == interview.FeedbackFailed {
						return poller.Err()
					}
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "request a new report before waiting")
	return cmd
}

func newRateCmd(configPath *string) *cobra.Command {
	var value int
	var comments string

	cmd := &cobra.Command{
		Use:   "rate <session-id>",
		Short: "Rate a finished session (1-5)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.logMetrics()

			ctx, cancel := signalContext()
			defer cancel()

			gate := feedback.NewGate(a.client)
			if value == 0 {
				open, err := gate.Check(ctx, args[0])
				if err != nil {
					return err
				}
				if !open {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "not rated yet")
					return nil
				}
				r := gate.Rating()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rating=%d comments=%q\n", r.Value, r.Comments)
				return nil
			}
			if err := gate.Submit(ctx, args[0], interview.Rating{Value: value, Comments: comments}); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "rating saved")
			return nil
		},
	}
	cmd.Flags().IntVar(&value, "value", 0, "rating 1-5; omit to show the current rating")
	cmd.Flags().StringVar(&comments, "comments", "", "optional comments")
	return cmd
}

func newExecCmd(configPath *string) *cobra.Command {
	var language, version, stdin string
	var files []string

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run code on the remote execution service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			if a.cfg.Executor.BaseURL == "" {
				return fmt.Errorf("executor.base_url is not configured")
			}
			defer a.logMetrics()

			req := api.ExecuteRequest{Language: language, Version: version, Stdin: stdin}
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				req.Files = append(req.Files, api.ExecuteFile{Name: path, Content: string(data)})
			}

			ctx, cancel := signalContext()
			defer cancel()

			executor := api.NewExecutor(a.cfg.Executor.BaseURL,
				api.WithTimeout(a.cfg.Executor.Timeout),
				api.WithMetrics(a.metrics))
			resp, err := executor.Execute(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprint(out, resp.Stdout())
			if stderr := resp.Stderr(); stderr != "" {
				_, _ = fmt.Fprint(cmd.ErrOrStderr(), stderr)
			}
			if !resp.Success() {
				return fmt.Errorf("%s %s: execution failed", resp.Language, resp.Version)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "language, e.g. go or python")
	cmd.Flags().StringVar(&version, "version", "", "language version (default any)")
	cmd.Flags().StringSliceVar(&files, "file", nil, "source files; the first one is the entry point")
	cmd.Flags().StringVar(&stdin, "stdin", "", "program input")
	_ = cmd.MarkFlagRequired("language")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newArchiveCmd(configPath *string) *cobra.Command {
	archive := &cobra.Command{Use: "archive", Short: "Inspect archived sessions"}

	archive.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List archived session ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(*configPath, func(ctx context.Context, store storage.Store) error {
				ids, err := store.List(ctx)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
					return nil
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(ids, "\n"))
				return nil
			})
		},
	})

	archive.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Print an archived session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(*configPath, func(ctx context.Context, store storage.Store) error {
				rec, err := store.Load(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			})
		},
	})
	return archive
}

func withStore(configPath string, fn func(ctx context.Context, store storage.Store) error) error {
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()
	return fn(ctx, store)
}
