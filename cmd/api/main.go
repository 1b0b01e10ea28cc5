package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tannaco/paygate/internal/card"
	"github.com/tannaco/paygate/internal/config"
	"github.com/tannaco/paygate/internal/database"
	"github.com/tannaco/paygate/internal/flow"
	"github.com/tannaco/paygate/internal/gateway"
	paygateHttp "github.com/tannaco/paygate/internal/http"
	paymentsHandler "github.com/tannaco/paygate/internal/http/payments"
	webhooksHandler "github.com/tannaco/paygate/internal/http/webhooks"
	"github.com/tannaco/paygate/internal/payment"
	paymentStore "github.com/tannaco/paygate/internal/payment/store"
	"github.com/tannaco/paygate/internal/receipt"
	receiptStore "github.com/tannaco/paygate/internal/receipt/store"
	"github.com/tannaco/paygate/internal/webhook"
	webhookStore "github.com/tannaco/paygate/internal/webhook/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := database.New(context.Background(), cfg.ConnectionString())
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	encryptor, err := buildEncryptor(cfg)
	if err != nil {
		slog.Error("failed to configure card encryption", "error", err)
		os.Exit(1)
	}

	client := gateway.NewClient(gateway.ClientParams{
		Credentials: gateway.NewCredentials(gateway.CredentialsParams{
			ClientID:     cfg.Gateway.ClientID,
			ClientSecret: cfg.Gateway.ClientSecret,
			IdentityURL:  cfg.Gateway.IdentityURL,
			SecretKey:    cfg.Gateway.SecretKey,
		}),
		Version:     gateway.NewVersion(cfg.Gateway.APIVersion),
		Environment: cfg.Gateway.Environment,
	})

	var (
		paymentService = payment.NewService(paymentStore.New(db), cfg.Payment.PendingWindow)
		receiptService = receipt.NewService(receiptStore.New(db))
		engine         = flow.NewEngine(client, paymentService)
		reconciler     = webhook.NewReconciler(cfg.Gateway.WebhookSecret,
			webhookStore.New(db), paymentService, receiptService, nil, nil)
	)

	go sweepExpired(context.Background(), paymentService, cfg.Payment.SweepInterval)

	var (
		paymentsH = paymentsHandler.NewHandler(paymentService, engine, encryptor)
		webhooksH = webhooksHandler.NewHandler(reconciler)
	)

	router := paygateHttp.New(paymentsH, webhooksH)

	port := fmt.Sprintf(":%d", cfg.App.Port)
	slog.Info("starting server", "port", port, "environment", cfg.Gateway.Environment)

	if err := http.ListenAndServe(port, router); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// sweepExpired periodically moves pending transactions past their window
// to expired.
func sweepExpired(ctx context.Context, payments *payment.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := payments.SweepExpired(ctx); err != nil {
				slog.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// buildEncryptor refuses to start a production instance without a real
// encryption key. Sandbox may run passthrough for scenario testing.
func buildEncryptor(cfg *config.Config) (*card.Encryptor, error) {
	if cfg.Gateway.EncryptionKey != "" {
		return card.NewEncryptor(cfg.Gateway.EncryptionKey)
	}

	if cfg.Production() {
		return nil, card.ErrKeyNotConfigured
	}

	return card.NewPassthroughEncryptor(), nil
}
