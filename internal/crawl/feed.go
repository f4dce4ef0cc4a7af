package crawl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/openpermissions/chubindex/internal/domain"
)

// FeedClient is the per-repository identifier-feed HTTP adapter (§6): each
// repository service exposes a paginated GET returning new identifiers
// since a caller-supplied cutoff.
type FeedClient struct {
	httpClient *http.Client
}

// NewFeedClient wraps an already-configured *http.Client (built by
// internal/httpclient) for talking to repository services.
func NewFeedClient(httpClient *http.Client) *FeedClient {
	return &FeedClient{httpClient: httpClient}
}

type feedResponse struct {
	Data     []domain.IdentifierRow `json:"data"`
	Metadata struct {
		ResultRange []string `json:"result_range"`
	} `json:"metadata"`
}

// FetchPage retrieves page (1-indexed) of repoID's identifier feed, for
// identifiers observed at or after from.
func (c *FeedClient) FetchPage(ctx context.Context, location, repoID string, page int, from time.Time) (domain.IdentifierPage, error) {
	endpoint := fmt.Sprintf("%s/repository/repositories/%s/assets/identifiers?page=%d&from=%s",
		location, repoID, page, url.QueryEscape(from.UTC().Format(time.RFC3339)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.IdentifierPage{}, fmt.Errorf("build identifier feed request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.IdentifierPage{}, fmt.Errorf("fetch identifier feed page %d: %w", page, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return domain.IdentifierPage{}, fmt.Errorf("fetch identifier feed page %d: unexpected status %d", page, resp.StatusCode)
	}

	var parsed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.IdentifierPage{}, fmt.Errorf("decode identifier feed page %d: %w", page, err)
	}

	out := domain.IdentifierPage{Data: parsed.Data}
	if len(parsed.Metadata.ResultRange) == 2 {
		out.ResultRange = &domain.ResultRange{From: parsed.Metadata.ResultRange[0], To: parsed.Metadata.ResultRange[1]}
	}
	return out, nil
}
