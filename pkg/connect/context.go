package connect

import (
	"strings"
)

// Relation data keys published by Kafka Connect on the connect-client relation.
const (
	FieldEndpoints = "endpoints"
	FieldUsername  = "username"
	FieldPassword  = "password"
	FieldPluginURL = "plugin-url"
)

// Relation is a snapshot of the connect-client relation.
type Relation struct {
	ID   int               `yaml:"id" json:"id"`
	Name string            `yaml:"name" json:"name"`
	Data map[string]string `yaml:"data" json:"data"`
}

// ClientContext is a read-only view over the connect-client relation data.
// A nil relation means the relation does not exist; every accessor then
// returns the zero value.
type ClientContext struct {
	relation *Relation
}

// NewClientContext wraps rel, which may be nil.
func NewClientContext(rel *Relation) *ClientContext {
	return &ClientContext{relation: rel}
}

// Present reports whether the relation exists.
func (c *ClientContext) Present() bool {
	return c != nil && c.relation != nil
}

// RelationID returns the relation id, or -1 when absent.
func (c *ClientContext) RelationID() int {
	if !c.Present() {
		return -1
	}
	return c.relation.ID
}

func (c *ClientContext) get(field string) string {
	if !c.Present() {
		return ""
	}
	return c.relation.Data[field]
}

// Endpoints returns the comma separated endpoint list, trimmed, without empties.
func (c *ClientContext) Endpoints() []string {
	raw := c.get(FieldEndpoints)
	if raw == "" {
		return nil
	}
	var out []string
	for _, e := range strings.Split(raw, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// Username returns the Kafka Connect client username
func (c *ClientContext) Username() string { return c.get(FieldUsername) }

// Password returns the Kafka Connect client password
func (c *ClientContext) Password() string { return c.get(FieldPassword) }

// PluginURL returns the plugin URL advertised to Kafka Connect
func (c *ClientContext) PluginURL() string { return c.get(FieldPluginURL) }

// Ready reports whether every listed field is set. With no fields it checks
// endpoints, username and password.
func (c *ClientContext) Ready(fields ...string) bool {
	if !c.Present() {
		return false
	}
	if len(fields) == 0 {
		fields = []string{FieldEndpoints, FieldUsername, FieldPassword}
	}
	for _, f := range fields {
		if strings.TrimSpace(c.get(f)) == "" {
			return false
		}
	}
	return true
}
