package odata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"
)

// MetadataTTL is how long a cached $metadata document stays fresh.
const MetadataTTL = time.Hour

// MetadataCache stores raw $metadata documents per environment URL.
// Implemented by the state store; a nil cache disables persistence.
type MetadataCache interface {
	GetMetadata(environment string) (doc []byte, fetchedAt time.Time, ok bool, err error)
	PutMetadata(environment string, doc []byte) error
}

// Config holds the connection settings for one environment.
type Config struct {
	// BaseURL is the environment root, e.g. "https://contoso.operations.dynamics.com".
	BaseURL string
	// Token, when set, is sent as a bearer Authorization header.
	Token string
	// Timeout bounds each request. Zero means 60s.
	Timeout time.Duration
}

// Client talks to one environment's OData endpoint.
type Client struct {
	baseURL    string
	dataPath   string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	cache      MetadataCache

	mu       sync.Mutex
	entities []*Schema
	fetched  time.Time
}

// NewClient creates a client for the given environment. logger may be
// nil; cache may be nil to skip cross-session metadata persistence.
func NewClient(cfg Config, logger *slog.Logger, cache MetadataCache) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("environment URL not set")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid environment URL %q: %w", cfg.BaseURL, err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL:    base,
		dataPath:   "/data/",
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		cache:      cache,
	}, nil
}

// BaseURL returns the environment root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// QueryEntity runs one entity query with the given options and decodes
// the response. cross-company=true is sent unless explicitly disabled.
func (c *Client) QueryEntity(ctx context.Context, entity string, opts QueryOptions) (*QueryResult, error) {
	if entity == "" {
		return nil, fmt.Errorf("entity name not set")
	}

	endpoint := c.baseURL + c.dataPath + entity
	if qs := buildQueryString(opts); qs != "" {
		endpoint += "?" + qs
	}

	start := time.Now()
	body, err := c.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Value    []Row  `json:"value"`
		Count    *int64 `json:"@odata.count"`
		NextLink string `json:"@odata.nextLink"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", entity, err)
	}

	result := &QueryResult{
		Data:      payload.Value,
		NextLink:  payload.NextLink,
		QueryTime: time.Since(start),
	}
	if payload.Value == nil {
		result.Data = []Row{}
	}
	if payload.Count != nil {
		result.Count = *payload.Count
		result.HasCount = true
	}

	c.logger.Debug("query",
		"entity", entity,
		"rows", len(result.Data),
		"count", result.Count,
		"ms", result.QueryTime.Milliseconds())
	return result, nil
}

func buildQueryString(opts QueryOptions) string {
	var params []string
	if !opts.CrossCompanyOff {
		params = append(params, "cross-company=true")
	}
	if len(opts.Select) > 0 {
		params = append(params, "$select="+strings.Join(opts.Select, ","))
	}
	if opts.Filter != "" {
		params = append(params, "$filter="+url.QueryEscape(opts.Filter))
	}
	if len(opts.OrderBy) > 0 {
		terms := make([]string, 0, len(opts.OrderBy))
		for _, o := range opts.OrderBy {
			dir := o.Direction
			if dir == "" {
				dir = "asc"
			}
			terms = append(terms, o.Field+" "+dir)
		}
		params = append(params, "$orderby="+url.QueryEscape(strings.Join(terms, ",")))
	}
	if opts.Top > 0 {
		params = append(params, fmt.Sprintf("$top=%d", opts.Top))
	}
	if opts.Skip > 0 {
		params = append(params, fmt.Sprintf("$skip=%d", opts.Skip))
	}
	if opts.Count {
		params = append(params, "$count=true")
	}
	if len(opts.Expand) > 0 {
		params = append(params, "$expand="+strings.Join(opts.Expand, ","))
	}
	return strings.Join(params, "&")
}

// ListEntities returns the schemas of every entity declared in
// $metadata, using the cached document when it is still fresh.
func (c *Client) ListEntities(ctx context.Context) ([]*Schema, error) {
	c.mu.Lock()
	if c.entities != nil && time.Since(c.fetched) < MetadataTTL {
		entities := c.entities
		c.mu.Unlock()
		return entities, nil
	}
	c.mu.Unlock()

	doc, fetchedAt, err := c.metadataDocument(ctx)
	if err != nil {
		return nil, err
	}
	entities, err := ParseMetadata(doc)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entities = entities
	c.fetched = fetchedAt
	c.mu.Unlock()
	return entities, nil
}

func (c *Client) metadataDocument(ctx context.Context) ([]byte, time.Time, error) {
	if c.cache != nil {
		doc, fetchedAt, ok, err := c.cache.GetMetadata(c.baseURL)
		if err != nil {
			c.logger.Warn("metadata cache read failed", "error", err)
		} else if ok && time.Since(fetchedAt) < MetadataTTL {
			return doc, fetchedAt, nil
		}
	}

	c.logger.Debug("fetching $metadata", "url", c.baseURL+c.dataPath+"$metadata")
	doc, err := c.get(ctx, c.baseURL+c.dataPath+"$metadata", "application/xml")
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("fetch $metadata: %w", err)
	}
	if c.cache != nil {
		if err := c.cache.PutMetadata(c.baseURL, doc); err != nil {
			c.logger.Warn("metadata cache write failed", "error", err)
		}
	}
	return doc, time.Now(), nil
}

// GetEntitySchema returns the schema for one entity, reconciled
// against a live probe row: declared properties the probe does not
// return are dropped ($metadata can list fields the service rejects in
// $select), and probe-only fields are appended with inferred types.
// Returns nil when the entity is unknown to both metadata and probe.
func (c *Client) GetEntitySchema(ctx context.Context, entity string) (*Schema, error) {
	var cached *Schema
	if entities, err := c.ListEntities(ctx); err == nil {
		for _, e := range entities {
			if e.Name == entity {
				cached = e
				break
			}
		}
	} else {
		c.logger.Warn("metadata unavailable, probing only", "entity", entity, "error", err)
	}

	result, err := c.QueryEntity(ctx, entity, QueryOptions{Top: 1})
	if err != nil || len(result.Data) == 0 {
		if err != nil {
			c.logger.Warn("schema probe failed", "entity", entity, "error", err)
		}
		// Empty or unreachable entity: the declared schema is all we have.
		if cached != nil {
			return cached, nil
		}
		if err != nil {
			return nil, err
		}
		return nil, nil
	}

	record := result.Data[0]
	realKeys := make(map[string]bool, len(record))
	for k := range record {
		if !strings.HasPrefix(k, "@") {
			realKeys[k] = true
		}
	}

	if cached == nil {
		schema := &Schema{
			Name:     entity,
			Label:    FormatEntityLabel(entity),
			Category: CategorizeEntity(entity),
		}
		for k := range realKeys {
			schema.Properties = append(schema.Properties, Property{
				Name:     k,
				Type:     InferType(record[k]),
				Nullable: true,
			})
		}
		sortProperties(schema.Properties)
		return schema, nil
	}

	reconciled := *cached
	reconciled.Properties = nil
	seen := map[string]bool{}
	for _, p := range cached.Properties {
		if realKeys[p.Name] {
			reconciled.Properties = append(reconciled.Properties, p)
			seen[p.Name] = true
		}
	}
	var extra []Property
	for k := range realKeys {
		if !seen[k] {
			extra = append(extra, Property{Name: k, Type: InferType(record[k]), Nullable: true})
		}
	}
	sortProperties(extra)
	reconciled.Properties = append(reconciled.Properties, extra...)
	return &reconciled, nil
}

func sortProperties(props []Property) {
	for i := 1; i < len(props); i++ {
		for j := i; j > 0 && props[j].Name < props[j-1].Name; j-- {
			props[j], props[j-1] = props[j-1], props[j]
		}
	}
}

var (
	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	guidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// InferType guesses the Edm type of a decoded JSON value.
func InferType(v any) string {
	switch val := v.(type) {
	case nil:
		return "Edm.String"
	case bool:
		return "Edm.Boolean"
	case float64:
		if val == math.Trunc(val) {
			return "Edm.Int64"
		}
		return "Edm.Decimal"
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return "Edm.Int64"
		}
		return "Edm.Decimal"
	case string:
		if datePattern.MatchString(val) {
			if strings.Contains(val, "T") {
				return "Edm.DateTimeOffset"
			}
			return "Edm.Date"
		}
		if guidPattern.MatchString(strings.ToLower(val)) {
			return "Edm.Guid"
		}
		return "Edm.String"
	}
	return "Edm.String"
}

func (c *Client) get(ctx context.Context, endpoint, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("OData-MaxVersion", "4.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: Truncate(strings.TrimSpace(string(body)), maxErrorBody)}
	}
	return body, nil
}
