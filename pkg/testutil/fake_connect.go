package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/canonical/kafkacl/pkg/json"
)

// Credentials accepted by FakeConnect.
const (
	FakeUsername = "integrator"
	FakePassword = "secret"
)

// Request is one call received by FakeConnect.
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// FakeConnector is the state FakeConnect keeps per connector.
type FakeConnector struct {
	Name      string
	Config    map[string]interface{}
	State     string
	TaskState string
	Tasks     int
}

type fault struct {
	status int
	body   string
}

// FakeConnect is an httptest server speaking the subset of the Kafka Connect
// REST API used by kafkacl. Connectors are created RUNNING with one task.
type FakeConnect struct {
	*httptest.Server

	mu         sync.Mutex
	connectors map[string]*FakeConnector
	requests   []Request
	faults     map[string][]fault
	plugins    []map[string]string
}

// NewFakeConnect starts a fake Kafka Connect server, closed with the test.
func NewFakeConnect(t testing.TB) *FakeConnect {
	f := &FakeConnect{
		connectors: make(map[string]*FakeConnector),
		faults:     make(map[string][]fault),
		plugins: []map[string]string{
			{"class": "org.apache.kafka.connect.file.FileStreamSourceConnector", "type": "source", "version": "3.9.0"},
			{"class": "org.apache.kafka.connect.file.FileStreamSinkConnector", "type": "sink", "version": "3.9.0"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /connectors", f.list)
	mux.HandleFunc("POST /connectors", f.create)
	mux.HandleFunc("GET /connector-plugins", f.listPlugins)
	mux.HandleFunc("PATCH /connectors/{name}/config", f.patch)
	mux.HandleFunc("PUT /connectors/{name}/resume", f.resume)
	mux.HandleFunc("PUT /connectors/{name}/stop", f.stop)
	mux.HandleFunc("DELETE /connectors/{name}", f.remove)
	mux.HandleFunc("GET /connectors/{name}/status", f.status)
	mux.HandleFunc("GET /connectors/{name}/tasks", f.tasks)
	mux.HandleFunc("GET /connectors/{name}/tasks/{id}/status", f.taskStatus)

	f.Server = httptest.NewServer(f.middleware(mux))
	t.Cleanup(f.Close)
	return f
}

// RelationData returns connect-client relation data pointing at the server.
func (f *FakeConnect) RelationData() map[string]string {
	return map[string]string{
		"endpoints": f.URL,
		"username":  FakeUsername,
		"password":  FakePassword,
	}
}

func (f *FakeConnect) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		f.requests = append(f.requests, Request{Method: r.Method, Path: r.URL.Path, Body: body})
		key := r.Method + " " + r.URL.Path
		var injected *fault
		if q := f.faults[key]; len(q) > 0 {
			injected = &q[0]
			f.faults[key] = q[1:]
		}
		f.mu.Unlock()

		if injected != nil {
			w.WriteHeader(injected.status)
			_, _ = io.WriteString(w, injected.body)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != FakeUsername || pass != FakePassword {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error_code": 401, "message": "Unauthorized"})
			return
		}

		r.Body = io.NopCloser(strings.NewReader(string(body)))
		next.ServeHTTP(w, r)
	})
}

// Fail makes the next call to method path answer status with body.
func (f *FakeConnect) Fail(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + " " + path
	f.faults[key] = append(f.faults[key], fault{status: status, body: body})
}

// Requests returns every call received so far
func (f *FakeConnect) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// Count returns the number of calls matching method and path. An empty
// method or path matches anything.
func (f *FakeConnect) Count(method, path string) int {
	n := 0
	for _, r := range f.Requests() {
		if (method == "" || r.Method == method) && (path == "" || r.Path == path) {
			n++
		}
	}
	return n
}

// Reset forgets the recorded calls
func (f *FakeConnect) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = nil
}

// Connector returns a copy of a connector's state
func (f *FakeConnect) Connector(name string) (FakeConnector, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[name]
	if !ok {
		return FakeConnector{}, false
	}
	return *c, true
}

// Connectors returns the names of every connector
func (f *FakeConnect) Connectors() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.connectors))
	for n := range f.connectors {
		names = append(names, n)
	}
	return names
}

// Put creates or replaces a connector directly
func (f *FakeConnect) Put(c FakeConnector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := c
	f.connectors[c.Name] = &cp
}

// Remove deletes a connector directly
func (f *FakeConnect) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connectors, name)
}

// SetState sets the connector and task state of a connector
func (f *FakeConnect) SetState(name, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.connectors[name]; ok {
		c.State = state
		c.TaskState = state
	}
}

func (f *FakeConnect) lookup(w http.ResponseWriter, r *http.Request) (*FakeConnector, bool) {
	name := r.PathValue("name")
	c, ok := f.connectors[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error_code": 404,
			"message":    fmt.Sprintf("Connector %s not found", name),
		})
	}
	return c, ok
}

func (f *FakeConnect) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, f.Connectors())
}

func (f *FakeConnect) listPlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, f.plugins)
}

func (f *FakeConnect) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string                 `json:"name"`
		Config map[string]interface{} `json:"config"`
	}
	if err := json.Decode(r.Body, &req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error_code": 400, "message": "invalid request"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.connectors[req.Name]; exists {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error_code": 409,
			"message":    fmt.Sprintf("Connector %s already exists", req.Name),
		})
		return
	}
	f.connectors[req.Name] = &FakeConnector{
		Name:      req.Name,
		Config:    req.Config,
		State:     "RUNNING",
		TaskState: "RUNNING",
		Tasks:     1,
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"name": req.Name, "config": req.Config, "tasks": []interface{}{}})
}

func (f *FakeConnect) patch(w http.ResponseWriter, r *http.Request) {
	var cfg map[string]interface{}
	if err := json.Decode(r.Body, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error_code": 400, "message": "invalid request"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(w, r)
	if !ok {
		return
	}
	if c.Config == nil {
		c.Config = map[string]interface{}{}
	}
	for k, v := range cfg {
		c.Config[k] = v
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"name": c.Name, "config": c.Config})
}

func (f *FakeConnect) resume(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(w, r)
	if !ok {
		return
	}
	c.State, c.TaskState = "RUNNING", "RUNNING"
	w.WriteHeader(http.StatusAccepted)
}

func (f *FakeConnect) stop(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(w, r)
	if !ok {
		return
	}
	c.State, c.TaskState = "STOPPED", "STOPPED"
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeConnect) remove(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(w, r)
	if !ok {
		return
	}
	delete(f.connectors, c.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeConnect) status(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      c.Name,
		"connector": map[string]interface{}{"state": c.State, "worker_id": "10.0.0.1:8083"},
		"tasks":     []interface{}{map[string]interface{}{"id": 0, "state": c.TaskState, "worker_id": "10.0.0.1:8083"}},
	})
}

func (f *FakeConnect) tasks(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(w, r)
	if !ok {
		return
	}
	tasks := make([]interface{}, 0, c.Tasks)
	for i := 0; i < c.Tasks; i++ {
		tasks = append(tasks, map[string]interface{}{
			"id":     map[string]interface{}{"connector": c.Name, "task": i},
			"config": c.Config,
		})
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (f *FakeConnect) taskStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": r.PathValue("id"), "state": c.TaskState, "worker_id": "10.0.0.1:8083"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(v)
	_, _ = w.Write(data)
}
