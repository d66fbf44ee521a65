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

const coinGeckoBaseURL = "https://api.coingecko.com/api/v3"

// coinGeckoIDs maps our symbols to CoinGecko coin ids.
var coinGeckoIDs = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"ADA": "cardano",
	"XRP": "ripple",
}

// CoinGecko fetches spot prices from the CoinGecko free API.
// Rate limited to 8 requests per minute (one token every 7.5 seconds).
type CoinGecko struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
	limiter *RateLimiter
}

func NewCoinGecko(tracer trace.Tracer) *CoinGecko {
	return &CoinGecko{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: coinGeckoBaseURL,
		tracer:  tracer,
		limiter: NewRateLimiter(8, 7500*time.Millisecond),
	}
}

func (p *CoinGecko) Name() string { return "coingecko" }

func (p *CoinGecko) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	_, span := p.tracer.Start(ctx, "coingecko.fetch-quote")
	defer span.End()

	id, ok := coinGeckoIDs[symbol]
	if !ok {
		return nil, domain.Fatal(fmt.Errorf("unsupported symbol: %s", symbol))
	}

	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&include_24hr_vol=true", p.baseURL, id)
	body, err := p.doRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	// Response shape: {"bitcoin": {"usd": 97000, "usd_24h_vol": 45000000000}}
	var raw map[string]map[string]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.Fatal(fmt.Errorf("parse coingecko response: %w", err))
	}
	data, ok := raw[id]
	if !ok {
		return nil, domain.Fatal(fmt.Errorf("coingecko response missing %s", id))
	}

	return &domain.Quote{
		Symbol:    symbol,
		PriceUSD:  data["usd"],
		Volume24h: data["usd_24h_vol"],
		FetchedAt: time.Now().UTC(),
		Source:    p.Name(),
	}, nil
}

func (p *CoinGecko) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coingecko ping status %d", resp.StatusCode)
	}
	return nil
}

func (p *CoinGecko) doRequest(ctx context.Context, url string) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, domain.Transient(fmt.Errorf("rate limit wait: %w", err))
	}

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
	return io.ReadAll(resp.Body)
}
