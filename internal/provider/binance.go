package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"quotekeeper/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const binanceBaseURL = "https://api.binance.com"

// Binance fetches 24h ticker data from the public Binance REST API.
type Binance struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

func NewBinance(tracer trace.Tracer) *Binance {
	return &Binance{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: binanceBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(20, 3*time.Second),
	}
}

func (p *Binance) Name() string { return "binance" }

func (p *Binance) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	_, span := p.tracer.Start(ctx, "binance.fetch-quote")
	defer span.End()

	if !domain.IsSupportedSymbol(symbol) {
		return nil, domain.Fatal(fmt.Errorf("unsupported symbol: %s", symbol))
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, domain.Transient(fmt.Errorf("rate limit wait: %w", err))
	}

	url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%sUSDT", p.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Fatal(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, domain.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyResponse(p.Name(), resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient(err)
	}

	// Binance encodes numbers as strings.
	var raw struct {
		LastPrice   string `json:"lastPrice"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.Fatal(fmt.Errorf("parse binance response: %w", err))
	}
	price, err := strconv.ParseFloat(raw.LastPrice, 64)
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("parse binance price %q: %w", raw.LastPrice, err))
	}
	volume, _ := strconv.ParseFloat(raw.QuoteVolume, 64)

	return &domain.Quote{
		Symbol:    symbol,
		PriceUSD:  price,
		Volume24h: volume,
		FetchedAt: time.Now().UTC(),
		Source:    p.Name(),
	}, nil
}

func (p *Binance) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v3/ping", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("binance ping status %d", resp.StatusCode)
	}
	return nil
}
