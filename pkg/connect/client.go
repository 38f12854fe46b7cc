// Package connect implements the Kafka Connect REST protocol used to drive
// connectors: the lifecycle verbs, with their success and idempotency rules,
// and the status reads that degrade to UNKNOWN instead of failing.
package connect

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/canonical/kafkacl/pkg/clients"
	"github.com/canonical/kafkacl/pkg/config"
	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/json"
	"github.com/canonical/kafkacl/pkg/metrics"
	"go.uber.org/zap"
)

const alreadyExists = "already exists"

// Outcome is the result of a successful create.
type Outcome int

const (
	// OutcomeCreated means Kafka Connect created the connector
	OutcomeCreated Outcome = iota + 1
	// OutcomeAlreadyExists means the connector had been submitted before
	OutcomeAlreadyExists
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Timeouts bounds each kind of call.
type Timeouts struct {
	// Read bounds status reads
	Read time.Duration
	// Mutation bounds create, patch, resume, stop and delete
	Mutation time.Duration
}

// DefaultTimeouts returns the default call timeouts
func DefaultTimeouts() Timeouts {
	return Timeouts{Read: 10 * time.Second, Mutation: 30 * time.Second}
}

// Plugin is an entry of the connector-plugins listing.
type Plugin struct {
	Class   string `json:"class"`
	Type    string `json:"type"`
	Version string `json:"version"`
}

// Client talks to the first Kafka Connect endpoint of a ClientContext.
type Client struct {
	cc            *ClientContext
	connectorName string
	endpoint      string

	http     *clients.HTTPClient
	timeouts Timeouts
	logger   *zap.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient shares a transport between clients
func WithHTTPClient(h *clients.HTTPClient) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithTimeouts overrides the call timeouts; zero fields keep their default
func WithTimeouts(t Timeouts) ClientOption {
	return func(c *Client) {
		if t.Read > 0 {
			c.timeouts.Read = t.Read
		}
		if t.Mutation > 0 {
			c.timeouts.Mutation = t.Mutation
		}
	}
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for connectorName, the default name used by
// every verb called with an empty name. It fails with a config error, before
// any network traffic, when the context carries no endpoint.
func NewClient(cc *ClientContext, connectorName string, opts ...ClientOption) (*Client, error) {
	endpoints := cc.Endpoints()
	if len(endpoints) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no connect endpoints available")
	}

	c := &Client{
		cc:            cc,
		connectorName: connectorName,
		endpoint:      normalizeEndpoint(endpoints[0]),
		timeouts:      DefaultTimeouts(),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "connect_client"), zap.String("endpoint", c.endpoint))

	if c.http == nil {
		h, err := clients.NewHTTPClient(clients.DefaultHTTPConfig(), c.logger)
		if err != nil {
			return nil, err
		}
		c.http = h
	}

	return c, nil
}

func normalizeEndpoint(e string) string {
	if !strings.Contains(e, "://") {
		e = "http://" + e
	}
	return strings.TrimRight(e, "/")
}

// Endpoint returns the endpoint in use
func (c *Client) Endpoint() string { return c.endpoint }

// ConnectorName returns the default connector name
func (c *Client) ConnectorName() string { return c.connectorName }

func (c *Client) name(name string) string {
	if name == "" {
		return c.connectorName
	}
	return name
}

type response struct {
	status int
	body   []byte
}

// request issues one REST call. resource is the templated path used as the
// metrics label.
func (c *Client) request(ctx context.Context, method, api, resource string, payload interface{}, timeout time.Duration) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	headers := map[string]string{}
	if payload != nil {
		buf, err := json.MarshalToBuffer(payload)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode request").
				WithDetail(errors.DetailPath, api)
		}
		defer json.PutBuffer(buf)
		body = buf
		headers["Content-Type"] = "application/json"
	}

	req, err := c.http.NewRequest(ctx, method, c.endpoint+"/"+api, body, headers)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cc.Username(), c.cc.Password())

	timer := metrics.NewTimer()
	resp, err := c.http.Do(req)
	metrics.ObserveRequest(method, resource, resp, err, timer.Stop())
	if err != nil {
		var e *errors.Error
		if errors.As(err, &e) {
			return nil, e.WithDetail(errors.DetailMethod, method).WithDetail(errors.DetailPath, api)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "connect API call failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response").
			WithDetail(errors.DetailMethod, method).
			WithDetail(errors.DetailPath, api)
	}

	c.logger.Debug("connect API call",
		zap.String("method", method),
		zap.String("path", api),
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", data))

	return &response{status: resp.StatusCode, body: data}, nil
}

func connectorPath(name string, sub ...string) string {
	parts := append([]string{"connectors", url.PathEscape(name)}, sub...)
	return strings.Join(parts, "/")
}

func apiError(message, name string, r *response) *errors.Error {
	return errors.NewAPIError(message, r.status, r.body).WithDetail(errors.DetailConnector, name)
}

// Create submits a connector. A 409 "already exists" answer is a success so
// that retried starts converge.
func (c *Client) Create(ctx context.Context, name string, payload config.WirePayload) (Outcome, error) {
	name = c.name(name)
	r, err := c.request(ctx, http.MethodPost, "connectors", "connectors",
		map[string]interface{}{"name": name, "config": payload}, c.timeouts.Mutation)
	if err != nil {
		return 0, err
	}

	switch {
	case r.status == http.StatusCreated:
		return OutcomeCreated, nil
	case r.status == http.StatusConflict && isAlreadyExists(r.body):
		c.logger.Info("connector has already been submitted, skipping", zap.String("connector", name))
		return OutcomeAlreadyExists, nil
	}

	c.logger.Error("unable to start the connector",
		zap.String("connector", name),
		zap.Int("status", r.status),
		zap.ByteString("body", r.body))
	return 0, apiError("unable to start the connector", name, r)
}

func isAlreadyExists(body []byte) bool {
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return false
	}
	return strings.Contains(msg.Message, alreadyExists)
}

// Patch replaces the connector configuration.
func (c *Client) Patch(ctx context.Context, name string, payload config.WirePayload) error {
	name = c.name(name)
	r, err := c.request(ctx, http.MethodPatch, connectorPath(name, "config"), "connectors/{name}/config",
		payload, c.timeouts.Mutation)
	if err != nil {
		return err
	}
	if r.status != http.StatusOK {
		c.logger.Error("unable to patch the connector", zap.String("connector", name), zap.ByteString("body", r.body))
		return apiError("unable to patch the connector", name, r)
	}
	c.logger.Debug("connector patched", zap.String("connector", name))
	return nil
}

// Resume resumes a stopped or paused connector.
func (c *Client) Resume(ctx context.Context, name string) error {
	return c.expect(ctx, http.MethodPut, name, "resume", http.StatusAccepted, "unable to resume the connector")
}

// Stop stops a connector.
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.expect(ctx, http.MethodPut, name, "stop", http.StatusNoContent, "unable to stop the connector")
}

// Delete removes a connector.
func (c *Client) Delete(ctx context.Context, name string) error {
	return c.expect(ctx, http.MethodDelete, name, "", http.StatusNoContent, "unable to remove the connector")
}

func (c *Client) expect(ctx context.Context, method, name, sub string, want int, message string) error {
	name = c.name(name)
	api, resource := connectorPath(name), "connectors/{name}"
	if sub != "" {
		api, resource = connectorPath(name, sub), resource+"/"+sub
	}

	r, err := c.request(ctx, method, api, resource, nil, c.timeouts.Mutation)
	if err != nil {
		return err
	}
	if r.status != want {
		c.logger.Error(message, zap.String("connector", name), zap.Int("status", r.status), zap.ByteString("body", r.body))
		return apiError(message, name, r)
	}
	return nil
}

// TaskStatus returns the state of the connector's first task. It never fails:
// communication problems are reported as UNKNOWN.
func (c *Client) TaskStatus(ctx context.Context, name string) TaskStatus {
	name = c.name(name)
	log := c.logger.With(zap.String("connector", name))

	r, err := c.request(ctx, http.MethodGet, connectorPath(name, "tasks"), "connectors/{name}/tasks", nil, c.timeouts.Read)
	if err != nil {
		log.Error("unable to fetch tasks", zap.Error(err))
		return StatusUnknown
	}
	switch r.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return StatusUnassigned
	default:
		log.Error("unable to fetch tasks status", zap.Int("status", r.status), zap.ByteString("body", r.body))
		return StatusUnknown
	}

	var tasks []struct {
		ID struct {
			Task *int `json:"task"`
		} `json:"id"`
	}
	if err := json.Unmarshal(r.body, &tasks); err != nil {
		log.Error("malformed tasks response", zap.Error(err))
		return StatusUnknown
	}
	if len(tasks) == 0 {
		return StatusUnassigned
	}

	taskID := 0
	if tasks[0].ID.Task != nil {
		taskID = *tasks[0].ID.Task
	}

	r, err = c.request(ctx, http.MethodGet, connectorPath(name, "tasks", strconv.Itoa(taskID), "status"),
		"connectors/{name}/tasks/{id}/status", nil, c.timeouts.Read)
	if err != nil {
		log.Error("unable to fetch task status", zap.Error(err))
		return StatusUnknown
	}
	switch r.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return StatusUnassigned
	default:
		log.Error("unable to fetch tasks status", zap.Int("status", r.status), zap.ByteString("body", r.body))
		return StatusUnknown
	}

	var status struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(r.body, &status); err != nil {
		log.Error("malformed task status response", zap.Error(err))
		return StatusUnknown
	}
	return ParseTaskStatus(status.State)
}

// ConnectorStatus returns the state of the connector itself. Like TaskStatus
// it never fails.
func (c *Client) ConnectorStatus(ctx context.Context, name string) TaskStatus {
	name = c.name(name)
	log := c.logger.With(zap.String("connector", name))

	r, err := c.request(ctx, http.MethodGet, connectorPath(name, "status"), "connectors/{name}/status", nil, c.timeouts.Read)
	if err != nil {
		log.Error("unable to fetch connector status", zap.Error(err))
		return StatusUnknown
	}
	switch r.status {
	case http.StatusOK:
	case http.StatusNotFound:
		return StatusUnassigned
	default:
		log.Error("unable to fetch connector status", zap.Int("status", r.status), zap.ByteString("body", r.body))
		return StatusUnknown
	}

	var status struct {
		Connector struct {
			State string `json:"state"`
		} `json:"connector"`
	}
	if err := json.Unmarshal(r.body, &status); err != nil {
		log.Error("malformed connector status response", zap.Error(err))
		return StatusUnknown
	}
	return ParseTaskStatus(status.Connector.State)
}

// ListConnectors returns the names of every connector on the cluster.
func (c *Client) ListConnectors(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "connectors", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Plugins returns the connector plugins installed on the cluster.
func (c *Client) Plugins(ctx context.Context) ([]Plugin, error) {
	var plugins []Plugin
	if err := c.getJSON(ctx, "connector-plugins", &plugins); err != nil {
		return nil, err
	}
	return plugins, nil
}

func (c *Client) getJSON(ctx context.Context, api string, out interface{}) error {
	r, err := c.request(ctx, http.MethodGet, api, api, nil, c.timeouts.Read)
	if err != nil {
		return err
	}
	if r.status != http.StatusOK {
		return errors.NewAPIError("unable to list "+api, r.status, r.body)
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "malformed response").WithDetail(errors.DetailPath, api)
	}
	return nil
}
