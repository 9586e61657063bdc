package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/internal/billing"
	"github.com/diewo77/invoiceflow/internal/config"
	"github.com/diewo77/invoiceflow/internal/db"
	"github.com/diewo77/invoiceflow/internal/delivery"
	"github.com/diewo77/invoiceflow/internal/mailer"
	"github.com/diewo77/invoiceflow/internal/models"
	"github.com/diewo77/invoiceflow/internal/notify"
	"github.com/diewo77/invoiceflow/internal/numbering"
	"github.com/diewo77/invoiceflow/internal/pdf"
	"github.com/diewo77/invoiceflow/internal/scheduler"
)

var migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")

func main() {
	flag.Parse()

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg := config.Load()

	log := newLogger(cfg.App.Dev)
	defer func() { _ = log.Sync() }()

	conn, err := db.Connect(cfg.Database.DSN())
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}

	if *migrateOnlyFlag {
		if err := db.Migrate(conn); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		log.Info("migrations completed")
		return
	}

	if cfg.App.Migrations {
		if err := db.Migrate(conn); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		log.Info("migrations completed")
	}
	if err := db.Seed(conn); err != nil {
		log.Fatal("seeding failed", zap.Error(err))
	}

	// Verify that sessions still refer to existing users
	auth.SetUserVerifier(func(ctx context.Context, uid uint) bool {
		var count int64
		conn.Model(&models.User{}).Where("id = ?", uid).Count(&count)
		return count > 0
	})

	// Collaborators
	smtp := mailer.NewSMTP(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, log)
	renderer := pdf.NewInvoiceRenderer()
	notifications := notify.NewService(conn, smtp, log)
	sender := delivery.NewEmailSender(renderer, smtp, log)

	// Core engine
	allocator := numbering.NewAllocator(log)
	allocator.SetDefaultPrefix(cfg.App.InvoicePrefix)
	lifecycle := billing.NewLifecycle(conn, sender, notifications, log)
	invoices := billing.NewInvoiceService(conn, allocator, log)
	recurring := billing.NewRecurring(conn, allocator, lifecycle, notifications, log)
	recurring.SetDeliveryTimeout(cfg.Scheduler.DeliveryTimeout)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(recurring, cfg.Scheduler.Interval, log)
		sched.Start(context.Background())
	} else {
		log.Warn("recurring scheduler disabled")
	}

	appHandler := NewApp(conn, invoices, lifecycle, notifications, renderer, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      withLogging(log, appHandler),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.Bool("dev", cfg.App.Dev))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received")

	if sched != nil {
		sched.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}
	log.Info("server stopped gracefully")
}

func newLogger(dev bool) *zap.Logger {
	var log *zap.Logger
	var err error
	if dev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return log
}

// withLogging adds request logging middleware.
func withLogging(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}
