package main

import (
	"context"
	"net/http"
	"time"

	"github.com/practicehq/agendly/libs/config"
	"github.com/practicehq/agendly/libs/db"
	otelx "github.com/practicehq/agendly/libs/otel"
	"github.com/practicehq/agendly/libs/runtime"
	"github.com/practicehq/agendly/services/agenda-service/internal/notify"
	"github.com/practicehq/agendly/services/agenda-service/internal/outbox"
	"github.com/practicehq/agendly/services/agenda-service/internal/profile"
	"github.com/practicehq/agendly/services/agenda-service/internal/reminders"
	"github.com/practicehq/agendly/services/agenda-service/internal/storage"
)

// reminder-sweep is the external periodic trigger for time-delayed
// reminders: it claims due rows and re-invokes the dispatcher per row.
func main() {
	service := config.String("SERVICE_NAME", "reminder-sweep")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	reminderRepo := storage.NewReminderRepository(pool)
	appointmentRepo := storage.NewAppointmentRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	var channel notify.Channel
	if smtpHost := config.String("SMTP_HOST", ""); smtpHost != "" {
		channel = notify.NewEmailChannel(smtpHost, config.String("SMTP_PORT", "1025"), config.String("SMTP_FROM", ""))
	} else {
		logger.Warn("SMTP_HOST not set; notifications are logged, not delivered")
		channel = &notify.NoopChannel{Logger: logger}
	}

	resolver, err := profile.NewDirectoryResolver(logger, config.String("DIRECTORY_GRPC_ADDR", ""), profile.NewPGResolver(pool))
	if err != nil {
		logger.Error("directory resolver init failed; using local profiles", "err", err)
		resolver = profile.NewPGResolver(pool)
	}

	svc := reminders.NewService(reminderRepo, appointmentRepo, resolver, channel, outbox.NewReminderEvents(outboxRepo, logger), logger, nil)
	sweep := reminders.NewSweep(svc, reminderRepo, logger, reminders.SweepConfig{
		Interval:    config.Duration("SWEEP_INTERVAL_SECONDS", 30*time.Second),
		BatchSize:   config.Int("SWEEP_BATCH_SIZE", 50),
		RetryAfter:  config.Duration("SWEEP_RETRY_AFTER_SECONDS", 5*time.Minute),
		MaxAttempts: config.Int("SWEEP_MAX_ATTEMPTS", 5),
	})
	go sweep.Run(ctx)

	// Health endpoints only; the sweep has no API surface.
	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
