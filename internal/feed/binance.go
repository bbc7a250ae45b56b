package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

const (
	binanceMaxRetries = 3
	binanceBackoff    = 100 * time.Millisecond
)

// BinanceConfig holds the futures ticker parameters.
type BinanceConfig struct {
	APIKey            string
	SecretKey         string
	BaseURL           string
	Symbols           []string
	RequestsPerSecond float64
}

// Binance reads last-trade prices from the Binance USDⓈ-M futures REST API.
// Calls are throttled by a token bucket and retried with exponential
// backoff.
type Binance struct {
	client  *futures.Client
	limiter *rate.Limiter
	symbols map[string]bool
	signed  bool
	logger  *slog.Logger
	now     func() time.Time
}

var _ domain.PriceSource = (*Binance)(nil)

// NewBinance creates a Binance price source.
func NewBinance(cfg BinanceConfig, logger *slog.Logger) *Binance {
	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	client.HTTPClient = &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	symbols := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[strings.ToUpper(s)] = true
	}
	return &Binance{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), int(2*rps)),
		symbols: symbols,
		signed:  cfg.APIKey != "" && cfg.SecretKey != "",
		logger:  logger.With(slog.String("component", "binance_feed")),
		now:     time.Now,
	}
}

func (b *Binance) Name() string { return "binance" }

// IsAuthenticated reports whether signed endpoints are available. Public
// ticker reads work either way.
func (b *Binance) IsAuthenticated() bool { return b.signed }

// HealthCheck pings the futures API.
func (b *Binance) HealthCheck(ctx context.Context) error {
	return b.client.NewPingService().Do(ctx)
}

// GetPrice fetches the latest price of one symbol.
func (b *Binance) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	sym := strings.ToUpper(symbol)
	prices, err := b.listPrices(ctx, sym)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("feed: binance %q: %w: %w", symbol, domain.ErrPriceUnavailable, err)
	}
	for _, p := range prices {
		if p.Symbol == sym {
			return b.quote(p)
		}
	}
	return domain.Quote{}, fmt.Errorf("feed: binance %q: %w", symbol, domain.ErrPriceUnavailable)
}

// Poll fetches every configured symbol in one request.
func (b *Binance) Poll(ctx context.Context) ([]domain.Quote, error) {
	prices, err := b.listPrices(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("feed: binance poll: %w", err)
	}
	out := make([]domain.Quote, 0, len(b.symbols))
	for _, p := range prices {
		if len(b.symbols) > 0 && !b.symbols[p.Symbol] {
			continue
		}
		q, err := b.quote(p)
		if err != nil {
			b.logger.DebugContext(ctx, "binance feed: skip malformed price",
				slog.String("symbol", p.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (b *Binance) quote(p *futures.SymbolPrice) (domain.Quote, error) {
	price, err := strconv.ParseFloat(p.Price, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("feed: binance %q: parse price %q: %w", p.Symbol, p.Price, err)
	}
	return domain.Quote{Symbol: p.Symbol, Price: price, Timestamp: b.now(), Source: "binance"}, nil
}

func (b *Binance) listPrices(ctx context.Context, symbol string) ([]*futures.SymbolPrice, error) {
	var lastErr error
	for attempt := 0; attempt <= binanceMaxRetries; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		svc := b.client.NewListPricesService()
		if symbol != "" {
			svc = svc.Symbol(symbol)
		}
		prices, err := svc.Do(ctx)
		if err == nil {
			return prices, nil
		}
		lastErr = err
		if attempt == binanceMaxRetries {
			break
		}
		wait := binanceBackoff << attempt
		b.logger.DebugContext(ctx, "binance feed: retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}
