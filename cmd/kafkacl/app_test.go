package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/kafkacl/internal/filestream"
	"github.com/canonical/kafkacl/pkg/config"
	"github.com/canonical/kafkacl/pkg/connect"
	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/integrator"
	"github.com/canonical/kafkacl/pkg/testutil"
	"github.com/canonical/kafkacl/pkg/watch"
)

func change(data string) watch.Change {
	return watch.Change{Path: "relation.yaml", Data: []byte(data), Exists: true}
}

func TestRelationTransitions(t *testing.T) {
	r := &relationSource{id: 4, name: connectRelation}

	_, ok := r.apply(watch.Change{})
	assert.False(t, ok)

	_, ok = r.apply(change("endpoints: http://c1:8083\n"))
	assert.False(t, ok, "credentials missing")
	require.NotNil(t, r.Get())
	assert.Equal(t, 4, r.Get().ID)

	sig, ok := r.apply(change("endpoints: http://c1:8083\nusername: u\npassword: p\n"))
	assert.True(t, ok)
	assert.Equal(t, integrator.IntegrationCreated, sig)

	_, ok = r.apply(change("endpoints: http://c1:8083\nusername: u\npassword: p\n"))
	assert.False(t, ok)

	sig, ok = r.apply(change("endpoints: http://c1:8083,http://c2:8083\nusername: u\npassword: p\n"))
	assert.True(t, ok)
	assert.Equal(t, integrator.EndpointsChanged, sig)

	sig, ok = r.apply(watch.Change{Path: "relation.yaml"})
	assert.True(t, ok)
	assert.Equal(t, integrator.RelationBroken, sig)
	assert.Nil(t, r.Get())
}

func TestParseRelationData(t *testing.T) {
	data, err := parseRelationData([]byte(`{"endpoints": "http://c:8083", "port": 8083, "empty": null}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"endpoints": "http://c:8083", "port": "8083"}, data)

	_, err = parseRelationData([]byte("- not a mapping"))
	assert.Error(t, err)
}

func TestDesiredSource(t *testing.T) {
	d := &desiredSource{formatter: filestream.Formatter(), current: config.DesiredConfig{}}

	changed, err := d.apply(watch.Change{Data: []byte("file_path: /data/in.jsonl\n"), Exists: true})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "/data/in.jsonl", d.Get()["file_path"])

	changed, err = d.apply(watch.Change{Data: []byte("file_path: /data/in.jsonl\n"), Exists: true})
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = d.apply(watch.Change{Data: []byte("unknown_option: 1\n"), Exists: true})
	assert.Error(t, err)
	assert.Equal(t, "/data/in.jsonl", d.Get()["file_path"])

	changed, err = d.apply(watch.Change{})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, d.Get())
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KAFKACL_STORE_DIR", dir)
	t.Setenv("KAFKACL_MODE", "sink")

	v := viper.New()
	newRootCommand(v)

	s, err := loadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, dir, s.Store.Dir)
	assert.Equal(t, config.ModeSink, s.IntegratorMode())
}

func TestInvalidOverrideRejected(t *testing.T) {
	t.Setenv("KAFKACL_MODE", "both")

	v := viper.New()
	newRootCommand(v)

	_, err := loadSettings(v)
	assert.Error(t, err)
}

func TestFormatterFor(t *testing.T) {
	f, err := formatterFor(filestream.Kind)
	require.NoError(t, err)
	assert.Equal(t, filestream.Kind, f.Kind())

	_, err = formatterFor("s3")
	assert.True(t, errors.IsConfig(err))
}

func testSettings(t *testing.T, fake *testutil.FakeConnect) *config.Settings {
	dir := t.TempDir()
	s := config.DefaultSettings()
	s.Store.Dir = filepath.Join(dir, "state")
	s.DesiredConfig = filepath.Join(dir, "desired.yaml")
	s.Relation.ID = 3
	s.Integrator.InstanceID = "unit-0"

	if fake != nil {
		s.Relation.DataFile = filepath.Join(dir, "relation.yaml")
		var buf bytes.Buffer
		for k, v := range fake.RelationData() {
			buf.WriteString(k + ": " + v + "\n")
		}
		require.NoError(t, os.WriteFile(s.Relation.DataFile, buf.Bytes(), 0o600))
	}
	return s
}

func TestAppLifecycle(t *testing.T) {
	fake := testutil.NewFakeConnect(t)
	ctx := testutil.TestContext(t)

	a, err := newApp(ctx, testSettings(t, fake), testutil.TestLogger(t))
	require.NoError(t, err)
	defer a.close()

	require.NoError(t, configure(ctx, a.integ, []byte("- name: orders\n  file: /data/orders.jsonl\n- name: users\n")))
	require.NoError(t, a.integ.Handle(ctx, &event{sig: integrator.IntegrationCreated}))

	report := collectStatus(ctx, a)
	assert.True(t, report.Started)
	assert.Equal(t, "filestream_r3_unit0", report.UniqueName)
	assert.Equal(t, connect.StatusRunning, report.TaskStatus)
	assert.Len(t, report.Connectors, 2)
	assert.Len(t, report.ClusterConnectors, 2)
	assert.Len(t, report.Plugins, 2)
	assert.Empty(t, report.Error)
	assert.Positive(t, report.HTTP.TotalRequests)
	assert.Equal(t, "closed", report.HTTP.CircuitState)
	require.NotNil(t, report.HTTP.RateLimiter)
	assert.Positive(t, report.HTTP.RateLimiter.AllowedRequests)

	c, ok := fake.Connector("__multi_orders_filestream_r3_unit0")
	require.True(t, ok)
	assert.Equal(t, "/data/orders.jsonl", c.Config["file"])
	assert.Equal(t, filestream.SourceConnectorClass, c.Config["connector.class"])
}

func TestAppWithoutRelation(t *testing.T) {
	ctx := testutil.TestContext(t)
	a, err := newApp(ctx, testSettings(t, nil), testutil.TestLogger(t))
	require.NoError(t, err)
	defer a.close()

	report := collectStatus(ctx, a)
	assert.False(t, report.Started)
	assert.Equal(t, connect.StatusUnassigned, report.TaskStatus)
	assert.NotEmpty(t, report.Error)
}

func TestAppGeneratesInstanceID(t *testing.T) {
	s := testSettings(t, nil)
	s.Integrator.InstanceID = ""
	ctx := testutil.TestContext(t)

	first, err := newApp(ctx, s, testutil.TestLogger(t))
	require.NoError(t, err)
	second, err := newApp(ctx, s, testutil.TestLogger(t))
	require.NoError(t, err)

	first.rel.apply(change("endpoints: http://c:8083\n"))
	second.rel.apply(change("endpoints: http://c:8083\n"))
	assert.NotEmpty(t, first.integ.UniqueName())
	assert.Equal(t, first.integ.UniqueName(), second.integ.UniqueName())
}

func TestConfigureDocument(t *testing.T) {
	ctx := testutil.TestContext(t)
	a, err := newApp(ctx, testSettings(t, nil), testutil.TestLogger(t))
	require.NoError(t, err)

	require.NoError(t, configure(ctx, a.integ, []byte("file: /override.jsonl\n")))
	dyn, err := a.integ.DynamicConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/override.jsonl", dyn.Single["file"])

	assert.True(t, errors.IsConfig(configure(ctx, a.integ, []byte("- just a string\n"))))
	assert.True(t, errors.IsConfig(configure(ctx, a.integ, []byte("42\n"))))
	assert.True(t, errors.IsConfig(configure(ctx, a.integ, []byte("- file: /x\n"))))
}

func TestSchemaCommand(t *testing.T) {
	root := newRootCommand(viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"schema"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "options:")
	assert.Contains(t, out.String(), "file_path:")
	assert.NotContains(t, out.String(), "tasks_max")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCommand(viper.New())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "kafkacl v"+version)
}

type event struct{ sig integrator.Signal }

func (e *event) Signal() integrator.Signal { return e.sig }
func (e *event) Defer()                    {}
