package provider

import (
	"context"
	"net/http"
	"testing"

	"quotekeeper/internal/domain"
)

func TestBinanceFetchQuote(t *testing.T) {
	t.Parallel()

	p := NewBinance(testTracer)
	p.baseURL = "http://example"

	var requestedURL string
	p.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			requestedURL = req.URL.String()
			return jsonResponse(http.StatusOK, `{"lastPrice":"97123.40","quoteVolume":"1234567.8"}`), nil
		}),
	}

	quote, err := p.FetchQuote(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if requestedURL != "http://example/api/v3/ticker/24hr?symbol=BTCUSDT" {
		t.Fatalf("unexpected URL: %s", requestedURL)
	}
	if quote.PriceUSD != 97123.40 || quote.Volume24h != 1234567.8 || quote.Source != "binance" {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestBinanceMalformedPriceIsFatal(t *testing.T) {
	t.Parallel()

	p := NewBinance(testTracer)
	p.baseURL = "http://example"
	p.client = &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"lastPrice":"not-a-number"}`), nil
		}),
	}

	_, err := p.FetchQuote(context.Background(), "BTC")
	if !domain.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestCoinPaprikaFetchQuote(t *testing.T) {
	t.Parallel()

	p := NewCoinPaprika(testTracer)
	p.baseURL = "http://example"
	p.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if req.URL.Path != "/tickers/eth-ethereum" {
				t.Errorf("unexpected path: %s", req.URL.Path)
			}
			return jsonResponse(http.StatusOK, `{"quotes":{"USD":{"price":3200.25,"volume_24h":9000000}}}`), nil
		}),
	}

	quote, err := p.FetchQuote(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.PriceUSD != 3200.25 || quote.Source != "coinpaprika" {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestCoinPaprikaMissingUSDQuoteIsFatal(t *testing.T) {
	t.Parallel()

	p := NewCoinPaprika(testTracer)
	p.baseURL = "http://example"
	p.client = &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, `{"quotes":{}}`), nil
		}),
	}

	_, err := p.FetchQuote(context.Background(), "ETH")
	if !domain.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}
