package integrator

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/canonical/kafkacl/pkg/config"
	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/json"
	"github.com/canonical/kafkacl/pkg/metrics"
	"go.uber.org/zap"
)

// Store fields holding the integrator state on the peer relation.
const (
	FieldStarted  = "started"
	FieldConfig   = "config"
	FieldVersion  = "state-version"
	startedMarker = "true"
)

// StateVersion is the schema version of the persisted state.
const StateVersion = 1

// MultiConnectorPrefix marks the dynamic config keys that each hold the
// overrides of one connector.
const MultiConnectorPrefix = "__multi"

// DynamicConfig is the decoded dynamic configuration blob. Connectors is
// keyed by connector id; Single holds every other key.
type DynamicConfig struct {
	Single     config.WirePayload
	Connectors map[string]config.WirePayload
}

// IDs returns the declared connector ids, sorted
func (d DynamicConfig) IDs() []string {
	ids := make([]string, 0, len(d.Connectors))
	for id := range d.Connectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// State is the persisted integrator record. It spans two store fields that
// are not updated atomically: a reader may observe one field updated and
// not the other.
type State struct {
	Version int
	Started bool
	Dynamic DynamicConfig
}

func isConnectorKey(k string) bool {
	return strings.HasPrefix(k, MultiConnectorPrefix)
}

// decodeDynamic splits the flat JSON blob into single and per-connector overrides.
func decodeDynamic(blob string) (DynamicConfig, error) {
	d := DynamicConfig{
		Single:     config.WirePayload{},
		Connectors: map[string]config.WirePayload{},
	}
	if strings.TrimSpace(blob) == "" {
		return d, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return d, errors.Wrap(err, errors.ErrorTypeData, "corrupt dynamic config")
	}
	for k, v := range raw {
		if !isConnectorKey(k) {
			d.Single[k] = v
			continue
		}
		overrides, ok := v.(map[string]interface{})
		if !ok {
			return d, errors.Newf(errors.ErrorTypeData, "dynamic config %q is not an object", k)
		}
		d.Connectors[k] = overrides
	}
	return d, nil
}

// encode flattens d back into the stored blob
func (d DynamicConfig) encode() (string, error) {
	flat := make(map[string]interface{}, len(d.Single)+len(d.Connectors))
	for k, v := range d.Single {
		flat[k] = v
	}
	for k, v := range d.Connectors {
		flat[k] = map[string]interface{}(v)
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to encode dynamic config")
	}
	return string(data), nil
}

// State reads the persisted record. Without a store the zero state is returned.
func (i *Integrator) State(ctx context.Context) (State, error) {
	st := State{Version: StateVersion, Dynamic: DynamicConfig{
		Single:     config.WirePayload{},
		Connectors: map[string]config.WirePayload{},
	}}
	if i.store == nil {
		return st, nil
	}

	fields, err := i.store.All(ctx, i.peerID)
	if err != nil {
		return st, errors.Wrap(err, errors.ErrorTypeStore, "failed to read integrator state")
	}

	if v, ok := fields[FieldVersion]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			st.Version = n
		}
	}
	st.Started = fields[FieldStarted] != ""

	dyn, err := decodeDynamic(fields[FieldConfig])
	if err != nil {
		return st, err
	}
	st.Dynamic = dyn
	return st, nil
}

// Started reports the persisted started flag. Store failures read as false.
func (i *Integrator) Started(ctx context.Context) bool {
	if i.store == nil {
		return false
	}
	v, ok, err := i.store.Get(ctx, i.peerID, FieldStarted)
	if err != nil {
		i.logger.Warn("unable to read started flag", zap.Error(err))
		return false
	}
	return ok && v != ""
}

// SetStarted persists the started flag; false deletes the field.
func (i *Integrator) SetStarted(ctx context.Context, started bool) error {
	if i.store == nil {
		return nil
	}

	var err error
	if started {
		err = i.store.Set(ctx, i.peerID, map[string]string{FieldStarted: startedMarker})
	} else {
		err = i.store.Delete(ctx, i.peerID, FieldStarted)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to persist started flag")
	}
	metrics.SetStarted(started)
	return nil
}

// DynamicConfig returns the decoded dynamic configuration.
func (i *Integrator) DynamicConfig(ctx context.Context) (DynamicConfig, error) {
	st, err := i.State(ctx)
	return st.Dynamic, err
}

func (i *Integrator) saveDynamic(ctx context.Context, d DynamicConfig) error {
	blob, err := d.encode()
	if err != nil {
		return err
	}
	if err := i.store.Set(ctx, i.peerID, map[string]string{
		FieldConfig:  blob,
		FieldVersion: strconv.Itoa(StateVersion),
	}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to persist dynamic config")
	}
	return nil
}
