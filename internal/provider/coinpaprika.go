package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"quotekeeper/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

const coinPaprikaBaseURL = "https://api.coinpaprika.com/v1"

var coinPaprikaIDs = map[string]string{
	"BTC": "btc-bitcoin",
	"ETH": "eth-ethereum",
	"SOL": "sol-solana",
	"ADA": "ada-cardano",
	"XRP": "xrp-xrp",
}

// CoinPaprika fetches ticker data from the CoinPaprika free API.
type CoinPaprika struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

func NewCoinPaprika(tracer trace.Tracer) *CoinPaprika {
	return &CoinPaprika{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: coinPaprikaBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(10, 6*time.Second),
	}
}

func (p *CoinPaprika) Name() string { return "coinpaprika" }

func (p *CoinPaprika) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	_, span := p.tracer.Start(ctx, "coinpaprika.fetch-quote")
	defer span.End()

	id, ok := coinPaprikaIDs[symbol]
	if !ok {
		return nil, domain.Fatal(fmt.Errorf("unsupported symbol: %s", symbol))
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, domain.Transient(fmt.Errorf("rate limit wait: %w", err))
	}

	url := fmt.Sprintf("%s/tickers/%s", p.baseURL, id)
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

	var raw struct {
		Quotes map[string]struct {
			Price     float64 `json:"price"`
			Volume24h float64 `json:"volume_24h"`
		} `json:"quotes"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.Fatal(fmt.Errorf("parse coinpaprika response: %w", err))
	}
	usd, ok := raw.Quotes["USD"]
	if !ok {
		return nil, domain.Fatal(fmt.Errorf("coinpaprika response missing USD quote for %s", id))
	}

	return &domain.Quote{
		Symbol:    symbol,
		PriceUSD:  usd.Price,
		Volume24h: usd.Volume24h,
		FetchedAt: time.Now().UTC(),
		Source:    p.Name(),
	}, nil
}

func (p *CoinPaprika) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/coins/btc-bitcoin", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coinpaprika ping status %d", resp.StatusCode)
	}
	return nil
}
