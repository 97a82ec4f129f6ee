package v1

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/langconnect/mcpd/pkg/container/runtime"
	"github.com/langconnect/mcpd/pkg/core"
	mcperrors "github.com/langconnect/mcpd/pkg/errors"
	"github.com/langconnect/mcpd/pkg/registry"
)

// memStore is an in-memory registry.Store for handler tests.
type memStore struct {
	mu      sync.Mutex
	nextID  int
	servers map[string]*core.Server
}

func newMemStore() *memStore {
	return &memStore{servers: make(map[string]*core.Server)}
}

func (s *memStore) Register(_ context.Context, req *core.CreateServerRequest, userID string) (*core.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := req.BuildConfig()
	if err != nil {
		return nil, err
	}
	for _, existing := range s.servers {
		if existing.Config.Name == cfg.Name {
			return nil, mcperrors.NewConflictError(
				fmt.Sprintf("Server with name '%s' already exists", cfg.Name), nil)
		}
	}

	s.nextID++
	server := &core.Server{
		ID:        fmt.Sprintf("id-%d", s.nextID),
		Config:    cfg,
		Status:    core.ServerStatus{State: core.StateStopped},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		CreatedBy: userID,
	}
	server.Status.ServerID = server.ID
	s.servers[server.ID] = server

	cp := *server
	return &cp, nil
}

func (s *memStore) Get(_ context.Context, id string) (*core.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.servers[id]
	if !ok {
		return nil, mcperrors.NewNotFoundError("Server not found", nil)
	}
	cp := *server
	return &cp, nil
}

func (s *memStore) GetByName(_ context.Context, name string) (*core.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, server := range s.servers {
		if server.Config.Name == name {
			cp := *server
			return &cp, nil
		}
	}
	return nil, mcperrors.NewNotFoundError("Server not found", nil)
}

func (s *memStore) List(_ context.Context, opts registry.ListOptions) (*core.ServerList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*core.Server
	for _, server := range s.servers {
		if opts.UserID != "" && server.CreatedBy != opts.UserID {
			continue
		}
		if opts.State != "" && server.Status.State != opts.State {
			continue
		}
		cp := *server
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	page, size := opts.Page, opts.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = registry.DefaultPageSize
	}
	total := len(matched)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	return &core.ServerList{Servers: matched[start:end], Total: total, Page: page, PageSize: size}, nil
}

func (s *memStore) UpdateConfig(_ context.Context, id string, patch *core.UpdateServerRequest) (*core.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.servers[id]
	if !ok {
		return nil, mcperrors.NewNotFoundError("Server not found", nil)
	}
	patch.Apply(&server.Config)
	server.UpdatedAt = time.Now().UTC()

	cp := *server
	return &cp, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status core.ServerStatus) (*core.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.servers[id]
	if !ok {
		return nil, mcperrors.NewNotFoundError("Server not found", nil)
	}
	status.ServerID = id
	server.Status = status
	server.UpdatedAt = time.Now().UTC()

	cp := *server
	return &cp, nil
}

func (s *memStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[id]; !ok {
		return false, nil
	}
	delete(s.servers, id)
	return true, nil
}

func (s *memStore) ListByState(_ context.Context, state core.State) ([]*core.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*core.Server
	for _, server := range s.servers {
		if server.Status.State == state {
			cp := *server
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}

// setState rewrites a record's status directly, bypassing the manager.
func (s *memStore) setState(id string, state core.State, containerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server := s.servers[id]
	server.Status.State = state
	server.Status.ContainerID = containerID
}

// stubRuntime implements runtime.Runtime with overridable function fields.
// The zero value behaves like a healthy runtime that succeeds at everything.
type stubRuntime struct {
	createFunc     func(ctx context.Context, serverID string, cfg *core.ServerConfig) (string, core.ServerStatus)
	startFunc      func(ctx context.Context, containerID string) core.ServerStatus
	stopFunc       func(ctx context.Context, containerID string, timeout time.Duration) core.ServerStatus
	streamLogsFunc func(ctx context.Context, containerID string, follow bool, tail int) <-chan string
	pingFunc       func(ctx context.Context) error
}

func (f *stubRuntime) Create(ctx context.Context, serverID string, cfg *core.ServerConfig) (string, core.ServerStatus) {
	if f.createFunc != nil {
		return f.createFunc(ctx, serverID, cfg)
	}
	return "cid-" + serverID, core.ServerStatus{State: core.StateStopped, ContainerID: "cid-" + serverID}
}

func (f *stubRuntime) Start(ctx context.Context, containerID string) core.ServerStatus {
	if f.startFunc != nil {
		return f.startFunc(ctx, containerID)
	}
	return core.ServerStatus{State: core.StateRunning, ContainerID: containerID, HealthCheckPassed: true}
}

func (f *stubRuntime) Stop(ctx context.Context, containerID string, timeout time.Duration) core.ServerStatus {
	if f.stopFunc != nil {
		return f.stopFunc(ctx, containerID, timeout)
	}
	return core.ServerStatus{State: core.StateStopped, ContainerID: containerID}
}

func (*stubRuntime) Restart(_ context.Context, containerID string, _ time.Duration) core.ServerStatus {
	return core.ServerStatus{State: core.StateRunning, ContainerID: containerID, HealthCheckPassed: true}
}

func (*stubRuntime) Remove(_ context.Context, _ string, _ bool) bool { return true }

func (*stubRuntime) Status(_ context.Context, containerID string) (*core.ServerStatus, error) {
	return &core.ServerStatus{State: core.StateRunning, ContainerID: containerID, HealthCheckPassed: true}, nil
}

func (f *stubRuntime) StreamLogs(ctx context.Context, containerID string, follow bool, tail int) <-chan string {
	if f.streamLogsFunc != nil {
		return f.streamLogsFunc(ctx, containerID, follow, tail)
	}
	ch := make(chan string)
	close(ch)
	return ch
}

func (*stubRuntime) Healthy(_ context.Context, _ string) (bool, string) { return true, "" }

func (*stubRuntime) ListManaged(_ context.Context) ([]runtime.ContainerSummary, error) {
	return nil, nil
}

func (f *stubRuntime) Ping(ctx context.Context) error {
	if f.pingFunc != nil {
		return f.pingFunc(ctx)
	}
	return nil
}

// stubTokens satisfies the manager's token source.
type stubTokens struct{ token string }

func (s *stubTokens) Get(_ context.Context, _ string) string { return s.token }
