package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canonical/kafkacl/pkg/clients"
	"github.com/canonical/kafkacl/pkg/config"
	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/json"
	"github.com/canonical/kafkacl/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, fake *testutil.FakeConnect) *Client {
	t.Helper()
	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.EnableHTTP2 = false
	httpCfg.CircuitBreakerEnabled = false
	h, err := clients.NewHTTPClient(httpCfg, nil)
	require.NoError(t, err)

	cc := NewClientContext(&Relation{ID: 1, Data: fake.RelationData()})
	c, err := NewClient(cc, "default_r1_abc",
		WithHTTPClient(h),
		WithLogger(testutil.TestLogger(t)),
		WithTimeouts(Timeouts{Read: time.Second, Mutation: time.Second}))
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	_, err := NewClient(NewClientContext(&Relation{ID: 1, Data: map[string]string{FieldEndpoints: " , "}}), "x")
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))

	_, err = NewClient(NewClientContext(nil), "x")
	assert.True(t, errors.IsConfig(err))
}

func TestNewClientNormalizesEndpoint(t *testing.T) {
	c, err := NewClient(NewClientContext(&Relation{Data: map[string]string{FieldEndpoints: "10.0.0.1:8083/,10.0.0.2:8083"}}), "x")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8083", c.Endpoint())
	assert.Equal(t, "x", c.ConnectorName())
}

func TestCreate(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	c := newTestClient(t, fake)
	ctx := testutil.TestContext(t)

	out, err := c.Create(ctx, "", config.WirePayload{"connector.class": "FileStreamSource", "tasks.max": 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)

	conn, ok := fake.Connector("default_r1_abc")
	require.True(t, ok)
	assert.Equal(t, "FileStreamSource", conn.Config["connector.class"])

	// a second submission is reported by Kafka Connect as a conflict
	out, err = c.Create(ctx, "", config.WirePayload{"connector.class": "FileStreamSource"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, out)
	assert.Equal(t, 2, fake.Count(http.MethodPost, "/connectors"))
}

func TestCreateFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"conflict without already exists", http.StatusConflict, `{"message":"rebalance in progress"}`},
		{"conflict with malformed body", http.StatusConflict, `already exists`},
		{"bad request", http.StatusBadRequest, `{"message":"missing connector.class"}`},
		{"server error", http.StatusInternalServerError, `boom`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeConnect(t)
			c := newTestClient(t, fake)
			fake.Fail(http.MethodPost, "/connectors", tt.status, tt.body)

			_, err := c.Create(testutil.TestContext(t), "x", config.WirePayload{})
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeAPI))

			code, ok := errors.StatusCode(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.body, errors.Body(err))
		})
	}
}

func TestMutatingTransportFailureIsAPIError(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	c := newTestClient(t, fake)
	fake.Close()

	ctx := testutil.TestContext(t)
	_, err := c.Create(ctx, "x", config.WirePayload{})
	assert.True(t, errors.IsAPI(err))
	assert.True(t, errors.IsAPI(c.Patch(ctx, "x", config.WirePayload{})))
	assert.True(t, errors.IsAPI(c.Resume(ctx, "x")))
}

func TestPatch(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	c := newTestClient(t, fake)
	ctx := testutil.TestContext(t)

	err := c.Patch(ctx, "missing", config.WirePayload{"topic": "b"})
	require.Error(t, err)
	code, _ := errors.StatusCode(err)
	assert.Equal(t, http.StatusNotFound, code)

	_, err = c.Create(ctx, "", config.WirePayload{"topic": "a"})
	require.NoError(t, err)
	require.NoError(t, c.Patch(ctx, "", config.WirePayload{"topic": "b"}))

	conn, _ := fake.Connector("default_r1_abc")
	assert.Equal(t, "b", conn.Config["topic"])

	reqs := fake.Requests()
	last := reqs[len(reqs)-1]
	assert.Equal(t, http.MethodPatch, last.Method)
	assert.Equal(t, "/connectors/default_r1_abc/config", last.Path)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(last.Body, &body))
	assert.Equal(t, map[string]interface{}{"topic": "b"}, body)
}

func TestResumeStopDelete(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	c := newTestClient(t, fake)
	ctx := testutil.TestContext(t)

	_, err := c.Create(ctx, "a", config.WirePayload{})
	require.NoError(t, err)

	require.NoError(t, c.Stop(ctx, "a"))
	assert.Equal(t, StatusStopped, c.ConnectorStatus(ctx, "a"))

	require.NoError(t, c.Resume(ctx, "a"))
	assert.Equal(t, StatusRunning, c.ConnectorStatus(ctx, "a"))

	require.NoError(t, c.Delete(ctx, "a"))
	assert.Equal(t, StatusUnassigned, c.ConnectorStatus(ctx, "a"))

	for _, err := range []error{c.Resume(ctx, "a"), c.Stop(ctx, "a"), c.Delete(ctx, "a")} {
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeAPI))
	}
}

func TestConnectorStatus(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	c := newTestClient(t, fake)
	ctx := testutil.TestContext(t)

	assert.Equal(t, StatusUnassigned, c.ConnectorStatus(ctx, "a"))

	fake.Put(testutil.FakeConnector{Name: "a", State: "PAUSED", TaskState: "RUNNING", Tasks: 1})
	assert.Equal(t, StatusPaused, c.ConnectorStatus(ctx, "a"))

	fake.Fail(http.MethodGet, "/connectors/a/status", http.StatusInternalServerError, "")
	assert.Equal(t, StatusUnknown, c.ConnectorStatus(ctx, "a"))

	fake.Fail(http.MethodGet, "/connectors/a/status", http.StatusOK, `{"connector":{}}`)
	assert.Equal(t, StatusUnassigned, c.ConnectorStatus(ctx, "a"))

	fake.Fail(http.MethodGet, "/connectors/a/status", http.StatusOK, `{"connector":{"state":"RUNNING"}}`)
	assert.Equal(t, StatusRunning, c.ConnectorStatus(ctx, "a"))

	fake.Fail(http.MethodGet, "/connectors/a/status", http.StatusOK, `not json`)
	assert.Equal(t, StatusUnknown, c.ConnectorStatus(ctx, "a"))
}

func TestConnectorStatusTransportFailure(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	c := newTestClient(t, fake)
	fake.Close()

	assert.Equal(t, StatusUnknown, c.ConnectorStatus(context.Background(), "a"))
	assert.Equal(t, StatusUnknown, c.TaskStatus(context.Background(), "a"))
}

func TestConnectorStatusReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cc := NewClientContext(&Relation{Data: map[string]string{FieldEndpoints: srv.URL}})
	c, err := NewClient(cc, "a", WithTimeouts(Timeouts{Read: 50 * time.Millisecond}))
	require.NoError(t, err)

	assert.Equal(t, StatusUnknown, c.ConnectorStatus(context.Background(), ""))
}

func TestTaskStatus(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	c := newTestClient(t, fake)
	ctx := testutil.TestContext(t)

	// 404 on the tasks collection
	assert.Equal(t, StatusUnassigned, c.TaskStatus(ctx, "a"))

	fake.Put(testutil.FakeConnector{Name: "a", State: "RUNNING", TaskState: "FAILED", Tasks: 0})
	assert.Equal(t, StatusUnassigned, c.TaskStatus(ctx, "a"))

	fake.Put(testutil.FakeConnector{Name: "a", State: "RUNNING", TaskState: "FAILED", Tasks: 2})
	assert.Equal(t, StatusFailed, c.TaskStatus(ctx, "a"))
	assert.Equal(t, 1, fake.Count(http.MethodGet, "/connectors/a/tasks/0/status"))

	fake.Fail(http.MethodGet, "/connectors/a/tasks", http.StatusInternalServerError, "")
	assert.Equal(t, StatusUnknown, c.TaskStatus(ctx, "a"))

	fake.Fail(http.MethodGet, "/connectors/a/tasks/0/status", http.StatusNotFound, "")
	assert.Equal(t, StatusUnassigned, c.TaskStatus(ctx, "a"))

	fake.Fail(http.MethodGet, "/connectors/a/tasks/0/status", http.StatusServiceUnavailable, "")
	assert.Equal(t, StatusUnknown, c.TaskStatus(ctx, "a"))

	fake.Fail(http.MethodGet, "/connectors/a/tasks/0/status", http.StatusOK, `{}`)
	assert.Equal(t, StatusUnassigned, c.TaskStatus(ctx, "a"))
}

func TestTaskStatusUsesFirstTaskID(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	c := newTestClient(t, fake)
	ctx := testutil.TestContext(t)

	fake.Put(testutil.FakeConnector{Name: "a", TaskState: "PAUSED"})
	fake.Fail(http.MethodGet, "/connectors/a/tasks", http.StatusOK, `[{"id":{"connector":"a","task":3}}]`)
	fake.Fail(http.MethodGet, "/connectors/a/tasks/3/status", http.StatusOK, `{"state":"PAUSED"}`)
	assert.Equal(t, StatusPaused, c.TaskStatus(ctx, "a"))

	// missing task id falls back to task 0
	fake.Fail(http.MethodGet, "/connectors/a/tasks", http.StatusOK, `[{"config":{}}]`)
	assert.Equal(t, StatusPaused, c.TaskStatus(ctx, "a"))
	assert.Equal(t, 1, fake.Count(http.MethodGet, "/connectors/a/tasks/0/status"))
}

func TestBasicAuth(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	data := fake.RelationData()
	data[FieldPassword] = "wrong"

	c, err := NewClient(NewClientContext(&Relation{Data: data}), "a")
	require.NoError(t, err)

	_, err = c.Create(testutil.TestContext(t), "", config.WirePayload{})
	code, ok := errors.StatusCode(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestListConnectorsAndPlugins(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	c := newTestClient(t, fake)
	ctx := testutil.TestContext(t)

	_, err := c.Create(ctx, "a", config.WirePayload{})
	require.NoError(t, err)

	names, err := c.ListConnectors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)

	plugins, err := c.Plugins(ctx)
	require.NoError(t, err)
	require.Len(t, plugins, 2)
	assert.Equal(t, "source", plugins[0].Type)

	fake.Fail(http.MethodGet, "/connectors", http.StatusInternalServerError, "")
	_, err = c.ListConnectors(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAPI))
}

func TestConnectorNameIsEscaped(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	c := newTestClient(t, fake)

	assert.Equal(t, StatusUnassigned, c.ConnectorStatus(testutil.TestContext(t), "a/b"))
	reqs := fake.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/connectors/a/b/status", reqs[0].Path)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "created", OutcomeCreated.String())
	assert.Equal(t, "already_exists", OutcomeAlreadyExists.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
