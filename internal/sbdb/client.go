package sbdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/qavit/smorrery/internal/metrics"
)

// maxBodyBytes caps upstream response bodies. A truncated body fails JSON
// validation downstream instead of being served.
const maxBodyBytes = 16 * 1024 * 1024

// Client queries the JPL SBDB and close-approach APIs.
type Client struct {
	queryURL   string
	cadURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. Empty URLs fall back to the public JPL
// endpoints.
func NewClient(queryURL, cadURL string, logger *slog.Logger) *Client {
	if queryURL == "" {
		queryURL = defaultQueryURL
	}
	if cadURL == "" {
		cadURL = defaultCADURL
	}
	return &Client{
		queryURL: queryURL,
		cadURL:   cadURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// QuerySmallBodies fetches the fixed NEO orbital-element set and returns
// the upstream JSON object as-is. No local schema is imposed; the
// front-end consumes whatever columns the API returned for the requested
// fields.
func (c *Client) QuerySmallBodies(ctx context.Context) (json.RawMessage, error) {
	params := url.Values{
		"fields":   {bodyFields},
		"sb-group": {bodyGroup},
		"limit":    {bodyLimit},
	}

	body, err := c.get(ctx, "sbdb_query", c.queryURL, params)
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("sbdb_query returned invalid JSON (%d bytes)", len(body))
	}
	return json.RawMessage(body), nil
}

// QueryCloseApproaches fetches close-approach records for the given window
// and projects each row to {des, cd, dist} by the column names the API
// declares in its fields header.
func (c *Client) QueryCloseApproaches(ctx context.Context, q CAQuery) ([]CloseApproach, error) {
	q = q.withDefaults()
	params := url.Values{
		"date-min": {q.DateMin},
		"date-max": {q.DateMax},
		"dist-max": {q.DistMax},
	}

	body, err := c.get(ctx, "cad", c.cadURL, params)
	if err != nil {
		return nil, err
	}

	var env cadEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding cad response: %w", err)
	}

	return projectCloseApproaches(env)
}

// projectCloseApproaches maps raw CAD rows to CloseApproach records using
// the declared column order. An envelope missing any required column is a
// hard error so an upstream schema change fails loudly instead of
// mis-mapping silently.
func projectCloseApproaches(env cadEnvelope) ([]CloseApproach, error) {
	idx := make(map[string]int, len(env.Fields))
	for i, name := range env.Fields {
		idx[name] = i
	}

	for _, required := range []string{"des", "cd", "dist"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("cad response missing %q column (fields: %v)", required, env.Fields)
		}
	}

	records := make([]CloseApproach, 0, len(env.Data))
	for i, row := range env.Data {
		if len(row) != len(env.Fields) {
			return nil, fmt.Errorf("cad row %d has %d columns, fields header declares %d", i, len(row), len(env.Fields))
		}
		records = append(records, CloseApproach{
			Des:  cellString(row[idx["des"]]),
			CD:   cellString(row[idx["cd"]]),
			Dist: cellString(row[idx["dist"]]),
		})
	}
	return records, nil
}

// cellString renders a CAD data cell as a string. The API nominally
// returns strings but numeric cells have been observed.
func cellString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

// get performs a GET against target with params. A non-200 response is
// returned as *UpstreamError carrying the status and raw body; transport
// failures propagate as wrapped errors.
func (c *Client) get(ctx context.Context, api, target string, params url.Values) ([]byte, error) {
	reqURL := target + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.IncUpstreamRequest(api, "transport_error")
		return nil, fmt.Errorf("fetching %s: %w", api, err)
	}
	defer resp.Body.Close()

	metrics.IncUpstreamRequest(api, strconv.Itoa(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response body: %w", api, err)
	}

	c.logger.Debug("upstream request",
		"component", "sbdb",
		"api", api,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}
