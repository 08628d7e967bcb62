package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atlas-pay/atlas_pay/internal/bank"
	"github.com/atlas-pay/atlas_pay/internal/config"
	"github.com/atlas-pay/atlas_pay/internal/deliveryproof"
	"github.com/atlas-pay/atlas_pay/internal/escrow"
	"github.com/atlas-pay/atlas_pay/internal/metrics"
	"github.com/atlas-pay/atlas_pay/internal/middleware"
	"github.com/atlas-pay/atlas_pay/internal/money"
	"github.com/atlas-pay/atlas_pay/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes. DB and
// Cache are optional; memory fallbacks keep the dev path alive.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *metrics.Registry
}

// Setup configures middlewares and all application routes. The banking
// provider is chosen here, once, from configuration: remote when the
// upstream URL and key are present, simulated otherwise.
func Setup(app *fiber.App, d Deps) error {
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	fees := money.FeePolicy{
		Percent: d.Cfg.Bank.FeePercent,
		Min:     d.Cfg.Bank.FeeMin,
		Max:     d.Cfg.Bank.FeeMax,
	}

	var callObserver bank.CallObserver
	var transitionObserver escrow.TransitionObserver
	if d.Metrics != nil {
		callObserver = d.Metrics
		transitionObserver = d.Metrics
	}

	var provider bank.Provider
	if d.Cfg.Bank.RemoteEnabled() {
		provider = bank.NewRemoteProvider(bank.RemoteConfig{
			BaseURL:         d.Cfg.Bank.APIURL,
			APIKey:          d.Cfg.Bank.APIKey,
			Timeout:         d.Cfg.Bank.Timeout,
			Retries:         d.Cfg.Bank.Retries,
			RetryDelay:      d.Cfg.Bank.RetryDelay,
			HoldingContract: d.Cfg.Bank.HoldingAccount,
			Fees:            fees,
		}, d.Logger, callObserver)
		d.Logger.Info("banking provider selected", "provider", "remote", "base_url", d.Cfg.Bank.APIURL)
	} else {
		provider = bank.NewSimulatedProvider(bank.SimulatedConfig{
			SeedBalance:    d.Cfg.Bank.SimSeedBalance,
			MinLatency:     d.Cfg.Bank.SimMinLatency,
			MaxLatency:     d.Cfg.Bank.SimMaxLatency,
			FailureRate:    d.Cfg.Bank.SimFailureRate,
			Fees:           fees,
			HoldingAccount: d.Cfg.Bank.HoldingAccount,
			FeeAccount:     d.Cfg.Bank.FeeAccount,
		})
		d.Logger.Info("banking provider selected", "provider", "simulated")
	}

	var repo escrow.Repository
	if d.DB != nil {
		repo = escrow.NewPostgresRepository(d.DB)
	} else {
		repo = escrow.NewMemoryRepository()
	}

	proofs, err := deliveryproof.New([]byte(d.Cfg.ProofSecret), d.Cfg.ProofTTL)
	if err != nil {
		return err
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	escrowSvc := escrow.NewService(repo, provider, proofs, notifier, d.Cfg.Bank.HoldingAccount, d.Logger, transitionObserver)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterEscrowRoutes(api, escrow.NewHandler(escrowSvc))
	RegisterBankRoutes(api, bank.NewHandler(provider))

	return nil
}
