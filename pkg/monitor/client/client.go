// Package client provides typed access to the monitord HTTP API for agents
// and scripts. Agents authenticate with their per-entity API key and push
// raw batches; operator tools authenticate with a JWT obtained from Login.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/louissader/homelab-infrastructure-monitor/models"
)

// Client provides typed access to the monitord API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	apiKey     string
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken sets the operator bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithAPIKey sets the agent API key sent with every request. The key binds
// requests to its entity, so an agent client needs no entity IDs in payloads.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// New constructs a Client pointing at the provided monitord base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:8090"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// SetToken replaces the operator token, e.g. after a Login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e APIError) Error() string {
	switch {
	case e.Message == "":
		return fmt.Sprintf("api request failed with status %d", e.Status)
	case e.Details == "":
		return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api request failed (%d): %s: %s", e.Status, e.Message, e.Details)
}

// IsNotFound reports whether err is an APIError with HTTP status 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(APIError)
	return ok && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := APIError{Status: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var envelope struct {
		Error *struct {
			Message string `json:"message"`
			Details string `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error == nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = envelope.Error.Message
	apiErr.Details = envelope.Error.Details
	return apiErr
}

// Health is the unauthenticated service health report.
type Health struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Database  string `json:"database"`
	Snapshots int64  `json:"snapshots"`
}

// Health reports service health; it needs no credentials.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// LoginResponse is the token payload emitted by the API.
type LoginResponse struct {
	Username    string        `json:"username"`
	Roles       []models.Role `json:"roles"`
	AccessToken string        `json:"access_token"`
	ExpiresAt   time.Time     `json:"expires_at"`
	TokenType   string        `json:"token_type"`
}

// Login exchanges operator credentials for a token and installs it on the
// client, so subsequent calls are authenticated.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	body := map[string]string{
		"username": username,
		"password": password,
	}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &resp); err != nil {
		return LoginResponse{}, err
	}
	c.token = resp.AccessToken
	return resp, nil
}

// Me describes the authenticated operator.
type Me struct {
	Username    string        `json:"username"`
	Roles       []models.Role `json:"roles"`
	AuthEnabled bool          `json:"auth_enabled"`
	ExpiresAt   *time.Time    `json:"expires_at"`
}

// Me returns the identity behind the current token.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var me Me
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", nil, &me); err != nil {
		return Me{}, err
	}
	return me, nil
}

// Ingest pushes one raw metric batch and returns the normalized snapshot.
// With an API key configured the batch needs no EntityID; with an operator
// token it does.
func (c *Client) Ingest(ctx context.Context, batch models.RawBatch) (models.MetricSnapshot, error) {
	var snap models.MetricSnapshot
	if err := c.do(ctx, http.MethodPost, "/api/v1/metrics/ingest", batch, &snap); err != nil {
		return models.MetricSnapshot{}, err
	}
	return snap, nil
}

// SnapshotPage is one page of stored snapshots.
type SnapshotPage struct {
	Items []models.MetricSnapshot `json:"items"`
	Total int64                   `json:"total"`
	Page  int                     `json:"page"`
	Size  int                     `json:"size"`
	Pages int64                   `json:"pages"`
}

// ListMetricsOptions filters the snapshot listing. Zero values mean "no
// filter"; Type is a metric category such as "cpu" or "memory".
type ListMetricsOptions struct {
	EntityID string
	Type     string
	Start    time.Time
	End      time.Time
	Page     int
	Size     int
}

func (o ListMetricsOptions) values() url.Values {
	q := url.Values{}
	if o.EntityID != "" {
		q.Set("entity_id", o.EntityID)
	}
	if o.Type != "" {
		q.Set("type", o.Type)
	}
	if !o.Start.IsZero() {
		q.Set("start", o.Start.Format(time.RFC3339))
	}
	if !o.End.IsZero() {
		q.Set("end", o.End.Format(time.RFC3339))
	}
	addPaging(q, o.Page, o.Size)
	return q
}

// ListMetrics returns stored snapshots, newest first.
func (c *Client) ListMetrics(ctx context.Context, opts ListMetricsOptions) (SnapshotPage, error) {
	var page SnapshotPage
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/metrics", opts.values()), nil, &page); err != nil {
		return SnapshotPage{}, err
	}
	return page, nil
}

// LatestMetric pairs an entity with its most recent snapshot. Snapshot is
// nil for entities that have never reported.
type LatestMetric struct {
	Entity   models.Entity          `json:"entity"`
	Snapshot *models.MetricSnapshot `json:"snapshot"`
}

// LatestMetrics returns the freshest snapshot for every registered entity.
func (c *Client) LatestMetrics(ctx context.Context) ([]LatestMetric, error) {
	var page struct {
		Items []LatestMetric `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/metrics/latest", nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// LatestMetric returns one entity with its freshest snapshot.
func (c *Client) LatestMetric(ctx context.Context, entityID string) (LatestMetric, error) {
	q := url.Values{}
	q.Set("entity_id", entityID)
	var item LatestMetric
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/metrics/latest", q), nil, &item); err != nil {
		return LatestMetric{}, err
	}
	return item, nil
}

// CleanupResult reports a manual snapshot cleanup.
type CleanupResult struct {
	Deleted int64     `json:"deleted"`
	Before  time.Time `json:"before"`
}

// CleanupBefore deletes snapshots older than the cutoff. Admin only.
func (c *Client) CleanupBefore(ctx context.Context, cutoff time.Time) (CleanupResult, error) {
	q := url.Values{}
	q.Set("before", cutoff.Format(time.RFC3339))
	var res CleanupResult
	if err := c.do(ctx, http.MethodDelete, withQuery("/api/v1/metrics", q), nil, &res); err != nil {
		return CleanupResult{}, err
	}
	return res, nil
}

// CleanupOlderThan deletes snapshots older than the given number of days.
// Admin only.
func (c *Client) CleanupOlderThan(ctx context.Context, days int) (CleanupResult, error) {
	q := url.Values{}
	q.Set("days", strconv.Itoa(days))
	var res CleanupResult
	if err := c.do(ctx, http.MethodDelete, withQuery("/api/v1/metrics", q), nil, &res); err != nil {
		return CleanupResult{}, err
	}
	return res, nil
}

// RegisteredEntity is the registration and key-rotation response. APIKey is
// the plaintext agent key; the server keeps only a hash, so store it now.
type RegisteredEntity struct {
	Entity models.Entity `json:"entity"`
	APIKey string        `json:"api_key"`
}

// CreateEntityInput registers a host or cluster. ID is optional; when empty
// the server mints one.
type CreateEntityInput struct {
	ID       string            `json:"id,omitempty"`
	Kind     models.EntityKind `json:"kind"`
	Name     string            `json:"name"`
	Hostname string            `json:"hostname,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// CreateEntity registers a monitored entity and returns its agent key.
func (c *Client) CreateEntity(ctx context.Context, input CreateEntityInput) (RegisteredEntity, error) {
	var reg RegisteredEntity
	if err := c.do(ctx, http.MethodPost, "/api/v1/entities", input, &reg); err != nil {
		return RegisteredEntity{}, err
	}
	return reg, nil
}

// EntityPage is one page of entities.
type EntityPage struct {
	Items []models.Entity `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
	Pages int64           `json:"pages"`
}

// ListEntitiesOptions filters the entity listing.
type ListEntitiesOptions struct {
	Kind   string
	Status string
	Page   int
	Size   int
}

// ListEntities returns registered entities.
func (c *Client) ListEntities(ctx context.Context, opts ListEntitiesOptions) (EntityPage, error) {
	q := url.Values{}
	if opts.Kind != "" {
		q.Set("kind", opts.Kind)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	addPaging(q, opts.Page, opts.Size)
	var page EntityPage
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/entities", q), nil, &page); err != nil {
		return EntityPage{}, err
	}
	return page, nil
}

// GetEntity fetches one entity by ID.
func (c *Client) GetEntity(ctx context.Context, id string) (models.Entity, error) {
	var entity models.Entity
	if err := c.do(ctx, http.MethodGet, "/api/v1/entities/"+url.PathEscape(id), nil, &entity); err != nil {
		return models.Entity{}, err
	}
	return entity, nil
}

// UpdateEntityInput carries the operator-editable entity fields. Nil fields
// stay unchanged.
type UpdateEntityInput struct {
	Name     *string           `json:"name,omitempty"`
	Hostname *string           `json:"hostname,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// UpdateEntity updates name, hostname or labels of an entity.
func (c *Client) UpdateEntity(ctx context.Context, id string, input UpdateEntityInput) (models.Entity, error) {
	var entity models.Entity
	if err := c.do(ctx, http.MethodPut, "/api/v1/entities/"+url.PathEscape(id), input, &entity); err != nil {
		return models.Entity{}, err
	}
	return entity, nil
}

// DeleteEntity deregisters an entity and all data recorded for it. Admin
// only.
func (c *Client) DeleteEntity(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/entities/"+url.PathEscape(id), nil, nil)
}

// RotateAPIKey mints a fresh agent key for the entity, invalidating the old
// one.
func (c *Client) RotateAPIKey(ctx context.Context, id string) (RegisteredEntity, error) {
	var reg RegisteredEntity
	if err := c.do(ctx, http.MethodPost, "/api/v1/entities/"+url.PathEscape(id)+"/apikey", nil, &reg); err != nil {
		return RegisteredEntity{}, err
	}
	return reg, nil
}

// AlertPage is one page of alerts.
type AlertPage struct {
	Items []models.Alert `json:"items"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
	Pages int64          `json:"pages"`
}

// ListAlertsOptions filters the alert listing. Resolved nil returns both
// open and resolved alerts.
type ListAlertsOptions struct {
	EntityID string
	Severity string
	Resolved *bool
	Page     int
	Size     int
}

// ListAlerts returns alerts, newest first.
func (c *Client) ListAlerts(ctx context.Context, opts ListAlertsOptions) (AlertPage, error) {
	q := url.Values{}
	if opts.EntityID != "" {
		q.Set("entity_id", opts.EntityID)
	}
	if opts.Severity != "" {
		q.Set("severity", opts.Severity)
	}
	if opts.Resolved != nil {
		q.Set("resolved", strconv.FormatBool(*opts.Resolved))
	}
	addPaging(q, opts.Page, opts.Size)
	var page AlertPage
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/alerts", q), nil, &page); err != nil {
		return AlertPage{}, err
	}
	return page, nil
}

// GetAlert fetches one alert by ID.
func (c *Client) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	var alert models.Alert
	if err := c.do(ctx, http.MethodGet, "/api/v1/alerts/"+url.PathEscape(id), nil, &alert); err != nil {
		return models.Alert{}, err
	}
	return alert, nil
}

// AcknowledgeAlert marks an alert as seen. With an empty by the server
// records the authenticated operator. Acknowledging twice is a no-op.
func (c *Client) AcknowledgeAlert(ctx context.Context, id, by string) (models.Alert, error) {
	var body any
	if by != "" {
		body = map[string]string{"by": by}
	}
	var alert models.Alert
	if err := c.do(ctx, http.MethodPost, "/api/v1/alerts/"+url.PathEscape(id)+"/acknowledge", body, &alert); err != nil {
		return models.Alert{}, err
	}
	return alert, nil
}

// ResolveAlert force-resolves an alert. Resolving twice is a no-op.
func (c *Client) ResolveAlert(ctx context.Context, id string) (models.Alert, error) {
	var alert models.Alert
	if err := c.do(ctx, http.MethodPost, "/api/v1/alerts/"+url.PathEscape(id)+"/resolve", nil, &alert); err != nil {
		return models.Alert{}, err
	}
	return alert, nil
}

// RulePage is one page of alert rules.
type RulePage struct {
	Items []models.AlertRule `json:"items"`
	Total int64              `json:"total"`
	Page  int                `json:"page"`
	Size  int                `json:"size"`
	Pages int64              `json:"pages"`
}

// RuleInput creates or replaces an alert rule. A nil Enabled defaults to
// enabled.
type RuleInput struct {
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	EntityID        string          `json:"entity_id,omitempty"`
	Metric          string          `json:"metric"`
	Operator        models.Operator `json:"operator"`
	Threshold       float64         `json:"threshold"`
	Severity        models.Severity `json:"severity"`
	Enabled         *bool           `json:"enabled,omitempty"`
	CooldownSeconds int             `json:"cooldown_seconds"`
	Channels        []string        `json:"channels,omitempty"`
}

// CreateRule installs a new alert rule.
func (c *Client) CreateRule(ctx context.Context, input RuleInput) (models.AlertRule, error) {
	var rule models.AlertRule
	if err := c.do(ctx, http.MethodPost, "/api/v1/rules", input, &rule); err != nil {
		return models.AlertRule{}, err
	}
	return rule, nil
}

// ListRulesOptions filters the rule listing.
type ListRulesOptions struct {
	Enabled *bool
	Page    int
	Size    int
}

// ListRules returns alert rules.
func (c *Client) ListRules(ctx context.Context, opts ListRulesOptions) (RulePage, error) {
	q := url.Values{}
	if opts.Enabled != nil {
		q.Set("enabled", strconv.FormatBool(*opts.Enabled))
	}
	addPaging(q, opts.Page, opts.Size)
	var page RulePage
	if err := c.do(ctx, http.MethodGet, withQuery("/api/v1/rules", q), nil, &page); err != nil {
		return RulePage{}, err
	}
	return page, nil
}

// GetRule fetches one rule by ID.
func (c *Client) GetRule(ctx context.Context, id string) (models.AlertRule, error) {
	var rule models.AlertRule
	if err := c.do(ctx, http.MethodGet, "/api/v1/rules/"+url.PathEscape(id), nil, &rule); err != nil {
		return models.AlertRule{}, err
	}
	return rule, nil
}

// UpdateRule replaces a rule's definition, keeping its ID.
func (c *Client) UpdateRule(ctx context.Context, id string, input RuleInput) (models.AlertRule, error) {
	var rule models.AlertRule
	if err := c.do(ctx, http.MethodPut, "/api/v1/rules/"+url.PathEscape(id), input, &rule); err != nil {
		return models.AlertRule{}, err
	}
	return rule, nil
}

// DeleteRule removes a rule. Alerts it raised stay in history.
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/rules/"+url.PathEscape(id), nil, nil)
}

// StreamStats is a point-in-time view of push-stream activity.
type StreamStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Overview is the dashboard summary.
type Overview struct {
	Entities        map[models.EntityStatus]int64 `json:"entities"`
	EntitiesTotal   int64                         `json:"entities_total"`
	OpenAlerts      map[models.Severity]int64     `json:"open_alerts"`
	OpenAlertsTotal int64                         `json:"open_alerts_total"`
	Rules           int64                         `json:"rules"`
	Snapshots       int64                         `json:"snapshots"`
	Stream          StreamStats                   `json:"stream"`
}

// StatsOverview returns fleet-wide counts for dashboards.
func (c *Client) StatsOverview(ctx context.Context) (Overview, error) {
	var overview Overview
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats/overview", nil, &overview); err != nil {
		return Overview{}, err
	}
	return overview, nil
}

func addPaging(q url.Values, page, size int) {
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if size > 0 {
		q.Set("size", strconv.Itoa(size))
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
