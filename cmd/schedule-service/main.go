package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"dentaldesk/schedule-service/internal/config"
	"dentaldesk/schedule-service/internal/httpapi"
	"dentaldesk/schedule-service/internal/hub"
	"dentaldesk/schedule-service/internal/lifecycle"
	"dentaldesk/schedule-service/internal/logging"
	"dentaldesk/schedule-service/internal/notify"
	"dentaldesk/schedule-service/internal/settings"
	"dentaldesk/schedule-service/internal/store/postgres"
	"dentaldesk/schedule-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "schedule-service"

func main() {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Dental clinic appointment schedule service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(promoteCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, realtime calendar push and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			count, err := postgres.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			statuses, err := postgres.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func promoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Run one late-arrival scan for a clinic and print the promoted appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			clinicID, _ := cmd.Flags().GetString("clinic")
			if _, err := uuid.Parse(clinicID); err != nil {
				return errors.New("--clinic must be a UUID")
			}
			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := logging.New(cfg.Env, cfg.LogLevel)
			pgStore := postgres.NewStore(pool)
			settingsService := settings.NewService(pgStore, nil, cfg.Location(), logger)
			promoter := lifecycle.NewPromoter(pgStore, settingsService, lifecycle.Options{Logger: logger})
			source := lifecycle.TodaySource(pgStore, settingsService, nil)

			promoted, err := promoter.RunOnce(ctx, source, clinicID)
			if err != nil {
				return err
			}
			for _, id := range promoted {
				fmt.Println(id)
			}
			fmt.Printf("Promoted %d appointment(s) to late.\n", len(promoted))
			return nil
		},
	}
	cmd.Flags().String("clinic", "", "Clinic ID to scan")
	_ = cmd.MarkFlagRequired("clinic")
	return cmd
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	return cfg, pool, nil
}

func runServer(cfg *config.Config) error {
	logger := logging.New(cfg.Env, cfg.LogLevel)
	shutdownTelemetry := telemetry.Setup(telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OtelEndpoint,
		Insecure:    cfg.OtelInsecure,
	}, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	pgStore := postgres.NewStore(pool)
	cache, err := settings.NewHoursCache(cfg.HoursCacheSize, cfg.HoursCacheTTL(), time.Now)
	if err != nil {
		return err
	}
	settingsService := settings.NewService(pgStore, cache, cfg.Location(), logger)

	promoter := lifecycle.NewPromoter(pgStore, settingsService, lifecycle.Options{Logger: logger})
	source := lifecycle.TodaySource(pgStore, settingsService, nil)

	var calendarHub *hub.Hub
	sessions := lifecycle.NewSessions(promoter, source, cfg.PromotionInterval(), func(clinicID string, ids []string) {
		calendarHub.BroadcastRefresh(clinicID, ids)
	})
	defer sessions.StopAll()
	calendarHub = hub.New(sessions, logger)

	relay := hub.NewRelay(calendarHub, pgStore, cfg.RealtimeBatchSize, logger)
	go relay.Start(ctx, cfg.RealtimePollInterval())

	if cfg.PromotionAlwaysOn {
		if err := promoteAllClinics(ctx, pgStore, sessions, logger); err != nil {
			return err
		}
	}

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	worker := notify.New(pgStore, notify.Config{
		BatchSize:   cfg.NotifBatchSize,
		MaxAttempts: cfg.NotifMaxAttempts,
		RetryDelay:  cfg.NotifRetryDelay(),
		Providers:   newProviders(cfg, logger),
		Publisher:   publisher,
	}, logger)
	go notify.Start(ctx, cfg.NotifPollInterval(), worker)

	reminders, err := notify.NewReminderJob(pgStore, cfg.ReminderCron, cfg.Location(), logger)
	if err != nil {
		return err
	}
	reminders.Start()
	defer reminders.Stop()

	secret := cfg.JWTSecret
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
		logger.Warn().Msg("JWT_SECRET not set, using an ephemeral development secret")
	}
	auth := httpapi.NewAuthenticator(secret, cfg.TokenTTL())
	handler := httpapi.NewHandler(httpapi.Deps{
		Appointments: pgStore,
		Calendar:     settingsService,
		Holidays:     pgStore,
		Staff:        pgStore,
		Auth:         auth,
		Realtime:     httpapi.NewRealtimeHandler(calendarHub, auth, logger),
		Logger:       logger,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		ClinicPerMinute: cfg.ClinicRateLimitPerMinute,
		ClinicBurst:     cfg.ClinicRateLimitBurst,
	}, auth)
	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.Origins()),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID", "X-Clinic-ID"}),
		handlers.AllowCredentials(),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger)(limiter.Middleware(cors(handler.Routes()))), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("schedule-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	return nil
}

// promoteAllClinics keeps a promotion timer running for every clinic even
// when no calendar is open.
func promoteAllClinics(ctx context.Context, pgStore *postgres.Store, sessions *lifecycle.Sessions, logger zerolog.Logger) error {
	clinics, err := pgStore.ListClinics(ctx)
	if err != nil {
		return fmt.Errorf("list clinics: %w", err)
	}
	for _, clinic := range clinics {
		sessions.Acquire(clinic.ClinicID)
	}
	logger.Info().Int("clinics", len(clinics)).Msg("promotion timers started for all clinics")
	return nil
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) (notify.Publisher, error) {
	if cfg.AMQPURL == "" {
		return notify.NoopPublisher(), nil
	}
	publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("exchange", cfg.AMQPExchange).Msg("publishing events to AMQP")
	return publisher, nil
}

func newProviders(cfg *config.Config, logger zerolog.Logger) map[string]notify.Provider {
	providerCfg := notify.ProviderConfig{
		LineChannelToken:  cfg.LineChannelToken,
		LineEndpoint:      cfg.LineEndpoint,
		TwilioAccountSID:  cfg.TwilioAccountSID,
		TwilioAuthToken:   cfg.TwilioAuthToken,
		TwilioFromNumber:  cfg.TwilioFromNumber,
		SendGridAPIKey:    cfg.SendGridAPIKey,
		SendGridFromEmail: cfg.SendGridFromEmail,
		SendGridFromName:  cfg.SendGridFromName,
		EmailSubject:      cfg.EmailSubject,
		WebhookURL:        cfg.WebhookURL,
		WebhookToken:      cfg.WebhookToken,
	}
	return map[string]notify.Provider{
		notify.ChannelLine:  notify.NewProvider(cfg.NotifLineProvider, notify.ChannelLine, providerCfg, logger),
		notify.ChannelSMS:   notify.NewProvider(cfg.NotifSMSProvider, notify.ChannelSMS, providerCfg, logger),
		notify.ChannelEmail: notify.NewProvider(cfg.NotifEmailProvider, notify.ChannelEmail, providerCfg, logger),
	}
}
