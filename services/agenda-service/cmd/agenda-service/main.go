package main

import (
	"context"
	"net/http"
	"time"

	"github.com/practicehq/agendly/libs/config"
	"github.com/practicehq/agendly/libs/db"
	"github.com/practicehq/agendly/libs/httpx"
	"github.com/practicehq/agendly/libs/kafkax"
	otelx "github.com/practicehq/agendly/libs/otel"
	"github.com/practicehq/agendly/libs/runtime"
	"github.com/practicehq/agendly/services/agenda-service/internal/handlers"
	"github.com/practicehq/agendly/services/agenda-service/internal/notify"
	"github.com/practicehq/agendly/services/agenda-service/internal/outbox"
	"github.com/practicehq/agendly/services/agenda-service/internal/profile"
	"github.com/practicehq/agendly/services/agenda-service/internal/reminders"
	"github.com/practicehq/agendly/services/agenda-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "agenda-service")
	port, err := config.Port("PORT", "8081")
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

	appointmentRepo := storage.NewAppointmentRepository(pool)
	reminderRepo := storage.NewReminderRepository(pool)
	scheduleRepo := storage.NewScheduleRepository(pool)
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

	reminderSvc := reminders.NewService(reminderRepo, appointmentRepo, resolver, channel, outbox.NewReminderEvents(outboxRepo, logger), logger, nil)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	agendaHandler := handlers.NewAgendaHandler(appointmentRepo, reminderSvc, scheduleRepo, reminderRepo, outboxRepo, logger, nil)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/appointments/book", agendaHandler.Book)
	mux.HandleFunc("/api/v1/appointments/confirm", agendaHandler.Confirm)
	mux.HandleFunc("/api/v1/appointments/reject", agendaHandler.Reject)
	mux.HandleFunc("/api/v1/appointments/start", agendaHandler.Start)
	mux.HandleFunc("/api/v1/appointments/finish", agendaHandler.Finish)
	mux.HandleFunc("/api/v1/appointments/no-show", agendaHandler.MarkNoShow)
	mux.HandleFunc("/api/v1/appointments/cancel", agendaHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/reminders", agendaHandler.Reminders)
	mux.HandleFunc("/api/v1/agenda/day", agendaHandler.Day)
	mux.HandleFunc("/api/v1/agenda/next", agendaHandler.Next)
	mux.HandleFunc("/api/v1/agenda/slots", agendaHandler.Slots)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "agenda")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
