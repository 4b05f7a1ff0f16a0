package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := cfg.NewLogger(cfg.ServiceName + "-notifier")
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Mail
	var mailer notify.Mailer = &notify.LogMailer{Logger: logger}
	if cfg.SMTPAddr != "" {
		mailer = &notify.SMTPMailer{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}
	} else {
		log.Println("SMTP_ADDR not set, mail is logged only")
	}

	d := &notify.Dispatcher{
		Mailer:     mailer,
		Deduper:    &redisx.Deduper{Client: rdb, Scope: "notifier"},
		AdminEmail: cfg.AdminEmail,
		Logger:     logger,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, cfg.NotifyTopic, cfg.NotifierWorkers, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Printf("notifier started: group=%s topic=%s workers=%d", cfg.NotifierGroup, cfg.NotifyTopic, cfg.NotifierWorkers)
		if err := cons.Start(ctx, d.Handle); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Println("shutting down notifier...")
	case <-ctx.Done():
	}
	cancel()
	<-done
}
