package app

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/groupspend/groupspend/internal/allocation"
	"github.com/groupspend/groupspend/internal/balances"
	"github.com/groupspend/groupspend/internal/events"
	"github.com/groupspend/groupspend/internal/extraction"
	"github.com/groupspend/groupspend/internal/groups"
	"github.com/groupspend/groupspend/internal/observability"
	"github.com/groupspend/groupspend/internal/platform/cache"
	"github.com/groupspend/groupspend/internal/receipts"
)

// Services holds the domain services shared by the server and the worker.
type Services struct {
	Groups     *groups.Service
	Receipts   *receipts.Service
	Allocation *allocation.Service
	Balances   *balances.Service
}

// ServiceDeps are the optional collaborators of the domain services. Nil
// fields disable the matching feature.
type ServiceDeps struct {
	Redis     *redis.Client
	Publisher *events.Publisher
	Metrics   *observability.Metrics
}

// NewServices wires the domain services over storage.
func NewServices(cfg *Config, storage *Storage, deps ServiceDeps, logger *slog.Logger) *Services {
	groupSvc := groups.NewService(storage.Groups, logger)

	parser := receipts.NewParser(cfg.DefaultCurrency, decimal.NewFromFloat(cfg.DivergencePct))
	receiptSvc := receipts.NewService(storage.Receipts, groupSvc, parser, logger)
	if cfg.OpenAIKey != "" {
		receiptSvc.WithExtractor(extraction.NewClient(extraction.Config{
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.ExtractTimeout,
		}))
	} else {
		logger.Warn("OPENAI_API_KEY not set, receipt extraction disabled")
	}

	var balanceCache *cache.Versioned
	if deps.Redis != nil {
		balanceCache = cache.NewVersioned(deps.Redis, "balances", cfg.BalanceCacheTTL)
	}
	balanceSvc := balances.NewService(storage.Receipts, storage.Groups, storage.Expenses, groupSvc, balanceCache, logger)

	allocationSvc := allocation.NewService(storage.Expenses, storage.Receipts, storage.Groups, groupSvc, logger).
		WithInvalidator(balanceSvc)

	if deps.Metrics != nil {
		receiptSvc.WithRecorder(deps.Metrics)
		allocationSvc.WithRecorder(deps.Metrics)
	}
	if deps.Publisher != nil {
		receiptSvc.WithPublisher(deps.Publisher)
		allocationSvc.WithPublisher(deps.Publisher)
	}

	return &Services{
		Groups:     groupSvc,
		Receipts:   receiptSvc,
		Allocation: allocationSvc,
		Balances:   balanceSvc,
	}
}
