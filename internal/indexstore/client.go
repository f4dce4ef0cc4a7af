package indexstore

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/openpermissions/chubindex/internal/domain"
	"github.com/openpermissions/chubindex/internal/metrics"
)

const namespaceAssetTemplate = `<?xml version="1.0" encoding="UTF-8" standalone="no"?>
<!DOCTYPE properties SYSTEM "http://java.sun.com/dtd/properties.dtd">
<properties>
  <entry key="com.bigdata.rdf.sail.namespace">%s</entry>
</properties>`

// Client is the triple-store HTTP adapter: it composes the query/update
// endpoint and the namespace-administration endpoint from the same
// configuration the host system uses (base URL, port, path, schema), and
// issues SPARQL queries/updates and Turtle writes against them.
type Client struct {
	dbURL      string
	nsAdminURL string
	namespace  string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient composes the triple-store URL the way DbInterface does:
// base_path + port + path + schema is the query/update/write endpoint; the
// namespace-administration endpoint is everything but the trailing schema
// segment.
func NewClient(basePath, port, path, schema string, httpClient *http.Client, logger *slog.Logger) *Client {
	dbURL := fmt.Sprintf("%s:%s%s%s", basePath, port, path, schema)
	segments := strings.Split(dbURL, "/")
	nsAdminURL := strings.Join(segments[:len(segments)-1], "/")

	return &Client{
		dbURL:      dbURL,
		nsAdminURL: nsAdminURL,
		namespace:  schema,
		httpClient: httpClient,
		logger:     logger.With("component", "indexstore"),
	}
}

// CreateNamespace bootstraps the triple store's namespace. It never returns
// an error: a 409 means the namespace already exists (not an error, per
// §7), and any other failure is logged rather than aborting startup —
// matching the reference system's own tolerance of a not-yet-ready store.
func (c *Client) CreateNamespace(ctx context.Context) {
	body := fmt.Sprintf(namespaceAssetTemplate, c.namespace)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nsAdminURL, strings.NewReader(body))
	if err != nil {
		c.logger.Error("build create-namespace request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("triple store unreachable", "url", c.dbURL, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusConflict {
		return
	}
	if resp.StatusCode/100 != 2 {
		c.logger.Error("triple store namespace create failed", "url", c.dbURL, "status", resp.StatusCode)
	}
}

// Ping confirms the triple store's query endpoint is reachable, for the
// best-effort readiness check (§6).
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.runQuery(ctx, "SELECT * WHERE { ?s ?p ?o } LIMIT 1")
	return err
}

func (c *Client) post(ctx context.Context, field, payload string) ([]map[string]string, error) {
	form := url.Values{}
	form.Set(field, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dbURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build sparql %s request: %w", field, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/csv")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("run sparql %s: %w", field, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("run sparql %s: unexpected status %d", field, resp.StatusCode)
	}

	return decodeCSV(resp.Body)
}

func decodeCSV(r io.Reader) ([]map[string]string, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Client) runQuery(ctx context.Context, sparql string) ([]map[string]string, error) {
	return c.post(ctx, "query", sparql)
}

func (c *Client) runUpdate(ctx context.Context, sparql string) error {
	_, err := c.post(ctx, "update", sparql)
	return err
}

func (c *Client) store(ctx context.Context, data, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dbURL, strings.NewReader(data))
	if err != nil {
		return fmt.Errorf("build store request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("store: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// AddEntities is the write-path entry point (§4.7): it validates rows,
// renders the accepted ones into Turtle, and submits the batch. The
// returned domain.WriteResult is populated even when the submission itself
// fails, so callers can still report how many rows were locally rejected.
func (c *Client) AddEntities(ctx context.Context, entityType string, rows []domain.IdentifierRow, repoID string) (domain.WriteResult, error) {
	turtle, result := BuildTurtle(entityType, rows, repoID)
	metrics.IndexWriteRecordsTotal.Add(float64(result.Records))
	metrics.IndexWriteErrorsTotal.Add(float64(len(result.Errors)))

	if err := c.store(ctx, turtle, "text/turtle"); err != nil {
		c.logger.Error("submit identifier batch", "repo_id", repoID, "records", result.Records, "error", err)
		return result, err
	}
	return result, nil
}

// Query is the read-path entry point (§4.6). invalid is non-empty exactly
// when at least one input failed normalisation, in which case the store is
// never consulted and the caller should respond with a bad-request error
// listing invalid.
func (c *Client) Query(ctx context.Context, inputs []domain.RepositoryLookup, relatedDepth int) (results []domain.LookupResult, invalid []domain.RepositoryLookup, err error) {
	sparql, normalized, invalid := BuildQuery(inputs, relatedDepth)
	if len(invalid) > 0 {
		return nil, invalid, nil
	}

	rows, err := c.runQuery(ctx, sparql)
	if err != nil {
		return nil, nil, fmt.Errorf("query index store: %w", err)
	}

	results, err = ParseResults(rows, normalized)
	if err != nil {
		return nil, nil, fmt.Errorf("parse index store results: %w", err)
	}
	return results, nil, nil
}
