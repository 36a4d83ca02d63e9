package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// toolClient is what the Registry needs from a per-server client. Satisfied
// by [*Client]; tests substitute fakes.
type toolClient interface {
	Connect(ctx context.Context) error
	Disconnect() error
	ExecuteTool(ctx context.Context, tool string, args map[string]any) Result
	Tools() []ToolDescriptor
	Status() Status
	Connected() bool
}

var _ toolClient = (*Client)(nil)

// Registry manages a set of named tool servers and aggregates their
// catalogues. Safe for concurrent use.
type Registry struct {
	log        *slog.Logger
	clientOpts []ClientOption
	newClient  func(ServerConfig) toolClient

	mu      sync.RWMutex
	servers map[string]toolClient
	pending map[string]struct{}
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger for the registry and its clients.
func WithRegistryLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClientOptions forwards options to every client the registry spawns.
func WithClientOptions(opts ...ClientOption) RegistryOption {
	return func(r *Registry) {
		r.clientOpts = append(r.clientOpts, opts...)
	}
}

// NewRegistry builds an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:     slog.Default(),
		servers: make(map[string]toolClient),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.newClient = func(cfg ServerConfig) toolClient {
		return NewClient(cfg, append([]ClientOption{WithLogger(r.log)}, r.clientOpts...)...)
	}
	return r
}

// AddServer spawns and connects a new tool server. The name must be unused.
// On any failure nothing is registered: a later AddServer with the same
// name starts from scratch.
func (r *Registry) AddServer(ctx context.Context, cfg ServerConfig) ([]ToolDescriptor, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("add server: name must not be empty")
	}

	r.mu.Lock()
	if _, ok := r.servers[cfg.Name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("add server: %q already registered", cfg.Name)
	}
	if _, ok := r.pending[cfg.Name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("add server: %q is already being added", cfg.Name)
	}
	r.pending[cfg.Name] = struct{}{}
	r.mu.Unlock()

	client := r.newClient(cfg)
	err := client.Connect(ctx)

	r.mu.Lock()
	delete(r.pending, cfg.Name)
	if err == nil {
		r.servers[cfg.Name] = client
	}
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	tools := client.Tools()
	r.log.Info("tool server registered", "server", cfg.Name, "tools", len(tools))
	return tools, nil
}

// RemoveServer disconnects and forgets a server. Its tools leave the
// aggregate catalogue immediately.
func (r *Registry) RemoveServer(name string) error {
	r.mu.Lock()
	client, ok := r.servers[name]
	if ok {
		delete(r.servers, name)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("remove server: unknown server %q", name)
	}
	if err := client.Disconnect(); err != nil {
		return fmt.Errorf("remove server %q: %w", name, err)
	}
	r.log.Info("tool server removed", "server", name)
	return nil
}

// ExecuteTool routes a call to the named server. Unknown or disconnected
// servers fail fast without touching any process.
func (r *Registry) ExecuteTool(ctx context.Context, server, tool string, args map[string]any) Result {
	r.mu.RLock()
	client, ok := r.servers[server]
	r.mu.RUnlock()

	if !ok {
		return Result{
			Server: server,
			Tool:   tool,
			Error:  fmt.Sprintf("unknown server %q", server),
		}
	}
	return client.ExecuteTool(ctx, tool, args)
}

// AllTools returns the aggregate catalogue across every registered server,
// keyed "{server}_{tool}". Tool names may repeat across servers; the
// qualified keys never collide because server names are unique.
func (r *Registry) AllTools() map[string]AggregateTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]AggregateTool)
	for name, client := range r.servers {
		for _, t := range client.Tools() {
			out[name+"_"+t.Name] = AggregateTool{
				Server:      name,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			}
		}
	}
	return out
}

// ServerTools returns one server's catalogue.
func (r *Registry) ServerTools(name string) ([]ToolDescriptor, error) {
	r.mu.RLock()
	client, ok := r.servers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown server %q", name)
	}
	return client.Tools(), nil
}

// ServerNames returns the registered server names in sorted order.
func (r *Registry) ServerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerStatus reports liveness for one server.
func (r *Registry) ServerStatus(name string) (Status, error) {
	r.mu.RLock()
	client, ok := r.servers[name]
	r.mu.RUnlock()

	if !ok {
		return Status{}, fmt.Errorf("unknown server %q", name)
	}
	return client.Status(), nil
}

// AllStatus reports liveness for every registered server.
func (r *Registry) AllStatus() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Status, len(r.servers))
	for name, client := range r.servers {
		out[name] = client.Status()
	}
	return out
}

// Close disconnects every server. Errors are logged, not returned: shutdown
// proceeds past individual failures.
func (r *Registry) Close() {
	r.mu.Lock()
	clients := r.servers
	r.servers = make(map[string]toolClient)
	r.mu.Unlock()

	for name, client := range clients {
		if err := client.Disconnect(); err != nil {
			r.log.Error("tool server disconnect failed", "server", name, "error", err)
		}
	}
}
