// Package accounts talks to the external accounts directory service: a GET
// that lists all known repositories, and a GET for a single repository by
// id (used by the registry's fetch_remote path, §4.4).
package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openpermissions/chubindex/internal/domain"
)

// Client is the accounts-service HTTP adapter.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a Client pointed at baseURL (e.g. "https://accounts.example.com").
func New(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

type listResponse struct {
	Data []repositoryDTO `json:"data"`
}

type repositoryDTO struct {
	ID      string `json:"id"`
	Service struct {
		Location string `json:"location"`
	} `json:"service"`
}

func (d repositoryDTO) toDomain() *domain.Repository {
	return &domain.Repository{ID: d.ID, Location: d.Service.Location}
}

// ListRepositories returns every repository the accounts service currently
// knows about.
func (c *Client) ListRepositories(ctx context.Context) ([]*domain.Repository, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/accounts/repositories", nil)
	if err != nil {
		return nil, fmt.Errorf("build accounts list request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list repositories: unexpected status %d", resp.StatusCode)
	}

	var parsed listResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode accounts list response: %w", err)
	}

	repos := make([]*domain.Repository, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		repos = append(repos, d.toDomain())
	}
	return repos, nil
}

// GetRepository looks up a single repository by id. It implements
// registry.RemoteResolver and returns domain.ErrRepositoryUnknown on a 404.
func (c *Client) GetRepository(ctx context.Context, id string) (*domain.Repository, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/accounts/repositories/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("build accounts get request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrRepositoryUnknown
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get repository %s: unexpected status %d", id, resp.StatusCode)
	}

	var d repositoryDTO
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode accounts get response: %w", err)
	}
	return d.toDomain(), nil
}
