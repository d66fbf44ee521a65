package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"quotekeeper/internal/domain"
	"quotekeeper/internal/provider"
	"quotekeeper/internal/resilience"
	"quotekeeper/internal/validator"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

const (
	sourceQuoteTTL = 5 * time.Minute
	latestQuoteTTL = 10 * time.Minute
	errorRetention = time.Hour
)

// CacheStore is the key/value collaborator. Get returns nil for absent keys.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// QuoteValidator scores single quotes and cross-checks sets of them.
type QuoteValidator interface {
	Validate(q *domain.Quote) validator.Outcome
	CrossValidate(qs []*domain.Quote) validator.CrossOutcome
}

// ErrorEventStore durably records terminal failures.
type ErrorEventStore interface {
	Record(ctx context.Context, ec domain.ErrorContext, cause string, retention time.Duration) error
}

// Alerter pushes best-effort operator notifications.
type Alerter interface {
	Alert(ctx context.Context, message string) error
}

// Deps bundles the orchestrator's collaborators. Cache, ErrorEvents and
// Alerter are optional; everything else is required.
type Deps struct {
	Tracer      trace.Tracer
	Logger      zerolog.Logger
	Providers   []provider.Registration
	Breakers    *resilience.Registry
	Retry       *resilience.Executor
	RetryConfig resilience.RetryConfig
	Validator   QuoteValidator
	Cache       CacheStore
	ErrorEvents ErrorEventStore
	Alerter     Alerter
}

// QuoteService fans a quote request out to every registered provider,
// each guarded by its own circuit breaker and retried with backoff,
// validates and cross-validates the answers, writes the winner through
// to the cache, and falls back to the last known cached quote when every
// provider fails. Stateless between calls except through the breaker
// registry and the cache.
type QuoteService struct {
	tracer      trace.Tracer
	logger      zerolog.Logger
	providers   []provider.Registration
	breakers    *resilience.Registry
	retry       *resilience.Executor
	retryCfg    resilience.RetryConfig
	validator   QuoteValidator
	cache       CacheStore
	errorEvents ErrorEventStore
	alerter     Alerter
}

func NewQuoteService(deps Deps) *QuoteService {
	providers := make([]provider.Registration, len(deps.Providers))
	copy(providers, deps.Providers)
	sort.Slice(providers, func(i, j int) bool { return providers[i].Priority < providers[j].Priority })

	return &QuoteService{
		tracer:      deps.Tracer,
		logger:      deps.Logger,
		providers:   providers,
		breakers:    deps.Breakers,
		retry:       deps.Retry,
		retryCfg:    deps.RetryConfig,
		validator:   deps.Validator,
		cache:       deps.Cache,
		errorEvents: deps.ErrorEvents,
		alerter:     deps.Alerter,
	}
}

// SetAlerter installs the alerting collaborator after construction, for
// wiring where the alerter itself depends on this service.
func (s *QuoteService) SetAlerter(a Alerter) {
	s.alerter = a
}

// GetQuote returns the best available quote for symbol. Individual
// provider and validation failures are absorbed here; only true
// exhaustion surfaces, as *domain.AllSourcesFailedError.
func (s *QuoteService) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	ctx, span := s.tracer.Start(ctx, "quote-service.get-quote")
	defer span.End()

	if !domain.IsSupportedSymbol(symbol) {
		return nil, domain.Fatal(fmt.Errorf("unsupported symbol: %s", symbol))
	}

	valid, lastErr := s.collectQuotes(ctx, symbol)
	if len(valid) == 0 {
		return s.fallback(ctx, symbol, lastErr)
	}

	winner := valid[0]
	if len(valid) > 1 {
		cross := s.validator.CrossValidate(valid)
		for _, d := range cross.Discrepancies {
			s.logger.Warn().
				Str("symbol", symbol).
				Float64("confidence", cross.Confidence).
				Str("discrepancy", d).
				Msg("cross-validation discrepancy")
		}
		if cross.Consensus == nil {
			return s.fallback(ctx, symbol, lastErr)
		}
		winner = cross.Consensus
	}

	s.cacheQuote(ctx, winner)
	return winner, nil
}

// GetMarketSummary assembles quotes for every supported symbol. Symbols
// that cannot be resolved are reported in Missing rather than failing
// the whole summary; only a full wipeout is an error.
func (s *QuoteService) GetMarketSummary(ctx context.Context) (*domain.MarketSummary, error) {
	ctx, span := s.tracer.Start(ctx, "quote-service.get-market-summary")
	defer span.End()

	quotes := make([]*domain.Quote, len(domain.SupportedSymbols))
	var wg sync.WaitGroup
	for i, symbol := range domain.SupportedSymbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			q, err := s.GetQuote(ctx, symbol)
			if err != nil {
				s.logger.Warn().Str("symbol", symbol).Err(err).Msg("symbol missing from market summary")
				return
			}
			quotes[i] = q
		}(i, symbol)
	}
	wg.Wait()

	summary := &domain.MarketSummary{GeneratedAt: time.Now().UTC()}
	for i, q := range quotes {
		if q == nil {
			summary.Missing = append(summary.Missing, domain.SupportedSymbols[i])
			continue
		}
		summary.Quotes = append(summary.Quotes, q)
	}
	if len(summary.Quotes) == 0 {
		return nil, fmt.Errorf("market summary unavailable: no symbol could be resolved")
	}
	return summary, nil
}

func (s *QuoteService) collectQuotes(ctx context.Context, symbol string) ([]*domain.Quote, error) {
	quotes := make([]*domain.Quote, len(s.providers))
	errs := make([]error, len(s.providers))

	var wg sync.WaitGroup
	for i, reg := range s.providers {
		wg.Add(1)
		go func(i int, reg provider.Registration) {
			defer wg.Done()
			quotes[i], errs[i] = s.fetchFromProvider(ctx, reg, symbol)
		}(i, reg)
	}
	wg.Wait()

	var valid []*domain.Quote
	var lastErr error
	for i, reg := range s.providers {
		if errs[i] != nil {
			lastErr = errs[i]
			var coe *resilience.CircuitOpenError
			if errors.As(errs[i], &coe) {
				s.logger.Warn().Str("symbol", symbol).Str("source", coe.Name).Msg("provider skipped, circuit open")
			}
			continue
		}

		q := *quotes[i]
		q.Priority = reg.Priority

		outcome := s.validator.Validate(&q)
		if !outcome.IsValid {
			s.logger.Warn().
				Str("symbol", symbol).
				Str("source", q.Source).
				Float64("confidence", outcome.Confidence).
				Strs("issues", outcome.Issues).
				Msg("quote discarded by validation")
			continue
		}
		valid = append(valid, &q)
	}
	return valid, lastErr
}

func (s *QuoteService) fetchFromProvider(ctx context.Context, reg provider.Registration, symbol string) (*domain.Quote, error) {
	name := reg.Adapter.Name()
	breaker := s.breakers.Get(name)

	return resilience.Guard(ctx, breaker, func(ctx context.Context) (*domain.Quote, error) {
		ec := domain.NewErrorContext("fetch-quote:"+name, name, symbol)
		return resilience.Retry(ctx, s.retry, s.retryCfg, ec, func(ctx context.Context) (*domain.Quote, error) {
			return reg.Adapter.FetchQuote(ctx, symbol)
		})
	})
}

func (s *QuoteService) fallback(ctx context.Context, symbol string, lastErr error) (*domain.Quote, error) {
	if s.cache != nil {
		data, err := s.cache.Get(ctx, latestKey(symbol))
		if err != nil {
			s.logger.Warn().Str("symbol", symbol).Err(err).Msg("cache fallback read failed")
		} else if data != nil {
			var q domain.Quote
			if err := json.Unmarshal(data, &q); err != nil {
				s.logger.Warn().Str("symbol", symbol).Err(err).Msg("cache fallback entry corrupt")
			} else {
				s.logger.Warn().
					Str("symbol", symbol).
					Str("source", q.Source).
					Time("fetched_at", q.FetchedAt).
					Msg("all providers failed, serving last known quote from cache")
				return &q, nil
			}
		}
	}

	failure := &domain.AllSourcesFailedError{Symbol: symbol, LastErr: lastErr}
	s.handleCriticalFailure(ctx, symbol, failure)
	return nil, failure
}

// handleCriticalFailure is the terminal-failure path: a structured error
// log plus best-effort durable persistence and operator alerting. Its own
// failures are swallowed and logged on the warn channel, never re-thrown.
func (s *QuoteService) handleCriticalFailure(ctx context.Context, symbol string, failure *domain.AllSourcesFailedError) {
	s.logger.Error().
		Str("symbol", symbol).
		Int("providers", len(s.providers)).
		Err(failure).
		Msg("all sources failed with no cached fallback")

	ec := domain.NewErrorContext("fetch-quote", "orchestrator", symbol).
		WithMeta("providers", strconv.Itoa(len(s.providers)))
	if s.errorEvents != nil {
		if err := s.errorEvents.Record(ctx, ec, failure.Error(), errorRetention); err != nil {
			s.logger.Warn().Str("symbol", symbol).Err(err).Msg("failed to persist critical error event")
		}
	}
	if s.alerter != nil {
		if err := s.alerter.Alert(ctx, fmt.Sprintf("quotekeeper: all sources failed for %s", symbol)); err != nil {
			s.logger.Warn().Str("symbol", symbol).Err(err).Msg("failed to send critical alert")
		}
	}
}

// cacheQuote writes the winner under its per-source key and the symbol's
// latest key. Write failures are non-fatal.
func (s *QuoteService) cacheQuote(ctx context.Context, q *domain.Quote) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(q)
	if err != nil {
		s.logger.Warn().Str("symbol", q.Symbol).Err(err).Msg("quote cache serialization failed")
		return
	}
	if err := s.cache.SetWithTTL(ctx, sourceKey(q.Symbol, q.Source), data, sourceQuoteTTL); err != nil {
		s.logger.Warn().Str("symbol", q.Symbol).Str("source", q.Source).Err(err).Msg("source quote cache write failed")
	}
	if err := s.cache.SetWithTTL(ctx, latestKey(q.Symbol), data, latestQuoteTTL); err != nil {
		s.logger.Warn().Str("symbol", q.Symbol).Err(err).Msg("latest quote cache write failed")
	}
}

func sourceKey(symbol, source string) string {
	return "quote:" + symbol + ":" + source
}

func latestKey(symbol string) string {
	return "quote:" + symbol + ":latest"
}
