package integrator

import (
	"net/http"

	"github.com/canonical/kafkacl/pkg/metrics"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func (s *IntegratorSuite) TestIntegrationCreatedStarts() {
	ev := &fakeEvent{sig: IntegrationCreated}

	s.Require().NoError(s.integ.Handle(s.ctx, ev))

	s.Zero(ev.deferred)
	s.True(s.integ.Started(s.ctx))
	s.Equal(1, s.fake.Count(http.MethodPost, createPath))
}

func (s *IntegratorSuite) TestIntegrationCreatedDefersWhenNotReady() {
	s.hooks.ready = false
	ev := &fakeEvent{sig: IntegrationCreated}
	deferred := metrics.LifecycleOperations.WithLabelValues("start", metrics.OutcomeDeferred)
	before := promtest.ToFloat64(deferred)

	s.Require().NoError(s.integ.Handle(s.ctx, ev))

	s.Equal(1, ev.deferred)
	s.Zero(s.fake.Count("", ""))
	s.Equal(before+1, promtest.ToFloat64(deferred))
}

func (s *IntegratorSuite) TestIntegrationCreatedDefersOnUnhealthyPlugin() {
	s.plugin.healthy = false
	ev := &fakeEvent{sig: IntegrationCreated}

	s.Require().NoError(s.integ.Handle(s.ctx, ev))

	s.Equal(1, ev.deferred)
	s.False(s.integ.Started(s.ctx))
}

func (s *IntegratorSuite) TestIntegrationCreatedDefersOnAPIFailure() {
	s.fake.Fail(http.MethodPost, createPath, http.StatusServiceUnavailable, "")
	ev := &fakeEvent{sig: IntegrationCreated}

	s.Require().NoError(s.integ.Handle(s.ctx, ev))
	s.Equal(1, ev.deferred)
	s.False(s.integ.Started(s.ctx))
}

func (s *IntegratorSuite) TestIntegrationCreatedReturnsConfigErrors() {
	s.rel.Data = map[string]string{"username": "integrator"}
	ev := &fakeEvent{sig: IntegrationCreated}

	err := s.integ.Handle(s.ctx, ev)
	s.Error(err)
	s.Equal(1, ev.deferred)
}

func (s *IntegratorSuite) TestEndpointsChangedIsNoop() {
	s.Require().NoError(s.integ.Handle(s.ctx, &fakeEvent{sig: EndpointsChanged}))
	s.Zero(s.fake.Count("", ""))
}

func (s *IntegratorSuite) TestRelationBroken() {
	s.Require().NoError(s.integ.Start(s.ctx))
	s.rel = nil

	s.Require().NoError(s.integ.Handle(s.ctx, &fakeEvent{sig: RelationBroken}))

	s.Equal(1, s.hooks.teardowns)
	s.False(s.integ.Started(s.ctx))
}

func (s *IntegratorSuite) TestConfigChangedPatches() {
	s.Require().NoError(s.integ.Start(s.ctx))

	s.Require().NoError(s.integ.Handle(s.ctx, &fakeEvent{sig: ConfigChanged}))
	s.Equal(1, s.fake.Count(http.MethodPatch, ""))
}

func (s *IntegratorSuite) TestUpdateStatusResumesAndRestartsPlugin() {
	s.Require().NoError(s.integ.Start(s.ctx))
	s.fake.SetState(connectorID, "STOPPED")
	s.plugin.healthy = false

	s.Require().NoError(s.integ.Handle(s.ctx, &fakeEvent{sig: UpdateStatus}))

	s.Equal(1, s.plugin.restarts)
	c, _ := s.fake.Connector(connectorID)
	s.Equal("RUNNING", c.State)
}

func (s *IntegratorSuite) TestUnknownSignalIgnored() {
	s.Require().NoError(s.integ.Handle(s.ctx, &fakeEvent{sig: "leader-elected"}))
}
