package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"quotekeeper/internal/domain"
)

// Adapter is a single upstream quote source. FetchQuote returns a
// normalized record or a classified error; Ping is a cheap reachability
// check used by the health subsystem.
type Adapter interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error)
	Ping(ctx context.Context) error
}

// Registration binds an adapter to its trust priority. Lower numbers are
// consulted first and win cross-validation ties.
type Registration struct {
	Adapter  Adapter
	Priority int
}

// classifyResponse turns a non-200 upstream response into a tagged error.
// Client-side errors are fatal; rate limiting and server errors are
// transient. Classification happens here, once, at the boundary.
func classifyResponse(source string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s API error %d: %s", source, resp.StatusCode, string(body))

	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return domain.Fatal(err)
	}
	return domain.Transient(err)
}
