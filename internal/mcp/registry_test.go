package mcp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

// fakeToolClient is an in-memory toolClient for registry tests.
type fakeToolClient struct {
	cfg        ServerConfig
	connectErr error

	mu          sync.Mutex
	connected   bool
	disconnects int
	tools       []ToolDescriptor
	lastTool    string
}

func (f *fakeToolClient) Connect(context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeToolClient) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return nil
}

func (f *fakeToolClient) ExecuteTool(_ context.Context, tool string, _ map[string]any) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTool = tool
	if !f.connected {
		return Result{Server: f.cfg.Name, Tool: tool, Error: "not connected"}
	}
	return Result{Success: true, Server: f.cfg.Name, Tool: tool}
}

func (f *fakeToolClient) Tools() []ToolDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tools
}

func (f *fakeToolClient) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.tools))
	for _, t := range f.tools {
		names = append(names, t.Name)
	}
	return Status{Server: f.cfg.Name, Connected: f.connected, ToolCount: len(f.tools), Tools: names}
}

func (f *fakeToolClient) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// newFakeRegistry builds a registry whose factory hands out the given fakes
// by server name.
func newFakeRegistry(fakes map[string]*fakeToolClient) *Registry {
	r := NewRegistry(WithRegistryLogger(discardLogger()))
	r.newClient = func(cfg ServerConfig) toolClient {
		f, ok := fakes[cfg.Name]
		if !ok {
			f = &fakeToolClient{cfg: cfg}
		} else {
			f.cfg = cfg
		}
		return f
	}
	return r
}

func TestRegistryAggregatesAcrossServers(t *testing.T) {
	t.Parallel()

	r := newFakeRegistry(map[string]*fakeToolClient{
		"calc":  {tools: []ToolDescriptor{{Name: "add"}, {Name: "sub"}}},
		"files": {tools: []ToolDescriptor{{Name: "read", Description: "reads a file"}}},
	})

	ctx := context.Background()
	if _, err := r.AddServer(ctx, ServerConfig{Name: "calc", Command: "calc-server"}); err != nil {
		t.Fatalf("add calc: %v", err)
	}
	if _, err := r.AddServer(ctx, ServerConfig{Name: "files", Command: "files-server"}); err != nil {
		t.Fatalf("add files: %v", err)
	}

	all := r.AllTools()
	if len(all) != 3 {
		t.Fatalf("aggregate has %d tools, want 3: %v", len(all), all)
	}
	for _, key := range []string{"calc_add", "calc_sub", "files_read"} {
		if _, ok := all[key]; !ok {
			t.Errorf("aggregate missing key %q", key)
		}
	}
	if got := all["files_read"]; got.Server != "files" || got.Description != "reads a file" {
		t.Fatalf("files_read = %+v", got)
	}

	if names := r.ServerNames(); len(names) != 2 || names[0] != "calc" || names[1] != "files" {
		t.Fatalf("server names = %v", names)
	}
}

func TestRegistryAddServerFailureLeavesNoState(t *testing.T) {
	t.Parallel()

	broken := &fakeToolClient{connectErr: errors.New("spawn failed")}
	r := newFakeRegistry(map[string]*fakeToolClient{"calc": broken})

	ctx := context.Background()
	if _, err := r.AddServer(ctx, ServerConfig{Name: "calc"}); err == nil {
		t.Fatal("add succeeded despite connect failure")
	}
	if len(r.ServerNames()) != 0 {
		t.Fatalf("registry kept state after failed add: %v", r.ServerNames())
	}

	// The name is free again: a working server can take it.
	broken.connectErr = nil
	if _, err := r.AddServer(ctx, ServerConfig{Name: "calc"}); err != nil {
		t.Fatalf("retry after failed add: %v", err)
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	t.Parallel()

	r := newFakeRegistry(map[string]*fakeToolClient{"calc": {}})
	ctx := context.Background()
	if _, err := r.AddServer(ctx, ServerConfig{Name: "calc"}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	_, err := r.AddServer(ctx, ServerConfig{Name: "calc"})
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("duplicate add err = %v", err)
	}
}

func TestRegistryExecuteRoutesByServer(t *testing.T) {
	t.Parallel()

	calc := &fakeToolClient{tools: []ToolDescriptor{{Name: "add"}}}
	files := &fakeToolClient{tools: []ToolDescriptor{{Name: "read"}}}
	r := newFakeRegistry(map[string]*fakeToolClient{"calc": calc, "files": files})

	ctx := context.Background()
	r.AddServer(ctx, ServerConfig{Name: "calc"})
	r.AddServer(ctx, ServerConfig{Name: "files"})

	res := r.ExecuteTool(ctx, "files", "read", map[string]any{"path": "/tmp/x"})
	if !res.Success || res.Server != "files" {
		t.Fatalf("result = %+v", res)
	}
	if files.lastTool != "read" || calc.lastTool != "" {
		t.Fatal("call routed to the wrong client")
	}

	res = r.ExecuteTool(ctx, "ghost", "read", nil)
	if res.Success || !strings.Contains(res.Error, "unknown server") {
		t.Fatalf("unknown server result = %+v", res)
	}
}

func TestRegistryRemoveServer(t *testing.T) {
	t.Parallel()

	calc := &fakeToolClient{tools: []ToolDescriptor{{Name: "add"}}}
	r := newFakeRegistry(map[string]*fakeToolClient{"calc": calc})

	ctx := context.Background()
	r.AddServer(ctx, ServerConfig{Name: "calc"})

	if err := r.RemoveServer("calc"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if calc.disconnects != 1 {
		t.Fatalf("disconnects = %d, want 1", calc.disconnects)
	}
	if len(r.AllTools()) != 0 {
		t.Fatal("tools remain after removal")
	}
	if err := r.RemoveServer("calc"); err == nil {
		t.Fatal("second remove succeeded")
	}
}

func TestRegistryStatusAndClose(t *testing.T) {
	t.Parallel()

	calc := &fakeToolClient{tools: []ToolDescriptor{{Name: "add"}}}
	r := newFakeRegistry(map[string]*fakeToolClient{"calc": calc})

	ctx := context.Background()
	r.AddServer(ctx, ServerConfig{Name: "calc"})

	st := r.AllStatus()
	if got := st["calc"]; !got.Connected || got.ToolCount != 1 {
		t.Fatalf("status = %+v", got)
	}

	one, err := r.ServerStatus("calc")
	if err != nil {
		t.Fatalf("server status: %v", err)
	}
	if one.Server != "calc" || !one.Connected {
		t.Fatalf("server status = %+v", one)
	}
	if _, err := r.ServerStatus("ghost"); err == nil || !strings.Contains(err.Error(), "unknown server") {
		t.Fatalf("ghost status err = %v", err)
	}

	r.Close()
	if calc.Connected() {
		t.Fatal("client still connected after Close")
	}
	if len(r.ServerNames()) != 0 {
		t.Fatal("servers remain after Close")
	}
}
