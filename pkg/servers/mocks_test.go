package servers

import (
	"context"
	"time"

	"github.com/langconnect/mcpd/pkg/container/runtime"
	"github.com/langconnect/mcpd/pkg/core"
	mcperrors "github.com/langconnect/mcpd/pkg/errors"
	"github.com/langconnect/mcpd/pkg/registry"
)

// fakeStore implements registry.Store with per-method function fields.
// Unset methods return zero values.
type fakeStore struct {
	registerFunc     func(ctx context.Context, req *core.CreateServerRequest, userID string) (*core.Server, error)
	getFunc          func(ctx context.Context, id string) (*core.Server, error)
	getByNameFunc    func(ctx context.Context, name string) (*core.Server, error)
	listFunc         func(ctx context.Context, opts registry.ListOptions) (*core.ServerList, error)
	updateConfigFunc func(ctx context.Context, id string, patch *core.UpdateServerRequest) (*core.Server, error)
	updateStatusFunc func(ctx context.Context, id string, status core.ServerStatus) (*core.Server, error)
	deleteFunc       func(ctx context.Context, id string) (bool, error)
	listByStateFunc  func(ctx context.Context, state core.State) ([]*core.Server, error)
}

func (f *fakeStore) Register(ctx context.Context, req *core.CreateServerRequest, userID string) (*core.Server, error) {
	if f.registerFunc != nil {
		return f.registerFunc(ctx, req, userID)
	}
	return nil, nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*core.Server, error) {
	if f.getFunc != nil {
		return f.getFunc(ctx, id)
	}
	return nil, mcperrors.NewNotFoundError("Server not found", nil)
}

func (f *fakeStore) GetByName(ctx context.Context, name string) (*core.Server, error) {
	if f.getByNameFunc != nil {
		return f.getByNameFunc(ctx, name)
	}
	return nil, mcperrors.NewNotFoundError("Server not found", nil)
}

func (f *fakeStore) List(ctx context.Context, opts registry.ListOptions) (*core.ServerList, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, opts)
	}
	return &core.ServerList{}, nil
}

func (f *fakeStore) UpdateConfig(ctx context.Context, id string, patch *core.UpdateServerRequest) (*core.Server, error) {
	if f.updateConfigFunc != nil {
		return f.updateConfigFunc(ctx, id, patch)
	}
	return nil, nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, status core.ServerStatus) (*core.Server, error) {
	if f.updateStatusFunc != nil {
		return f.updateStatusFunc(ctx, id, status)
	}
	return nil, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) (bool, error) {
	if f.deleteFunc != nil {
		return f.deleteFunc(ctx, id)
	}
	return false, nil
}

func (f *fakeStore) ListByState(ctx context.Context, state core.State) ([]*core.Server, error) {
	if f.listByStateFunc != nil {
		return f.listByStateFunc(ctx, state)
	}
	return nil, nil
}

// recordingStore wraps a fakeStore and keeps the statuses written through it.
type recordingStore struct {
	fakeStore
	statuses []core.ServerStatus
}

func newRecordingStore(get func(ctx context.Context, id string) (*core.Server, error)) *recordingStore {
	rs := &recordingStore{}
	rs.getFunc = get
	rs.updateStatusFunc = func(_ context.Context, id string, status core.ServerStatus) (*core.Server, error) {
		rs.statuses = append(rs.statuses, status)
		return &core.Server{ID: id, Status: status}, nil
	}
	return rs
}

func (rs *recordingStore) lastStatus() core.ServerStatus {
	if len(rs.statuses) == 0 {
		return core.ServerStatus{}
	}
	return rs.statuses[len(rs.statuses)-1]
}

// fakeRuntime implements runtime.Runtime with per-method function fields.
type fakeRuntime struct {
	createFunc      func(ctx context.Context, serverID string, cfg *core.ServerConfig) (string, core.ServerStatus)
	startFunc       func(ctx context.Context, containerID string) core.ServerStatus
	stopFunc        func(ctx context.Context, containerID string, timeout time.Duration) core.ServerStatus
	restartFunc     func(ctx context.Context, containerID string, timeout time.Duration) core.ServerStatus
	removeFunc      func(ctx context.Context, containerID string, force bool) bool
	statusFunc      func(ctx context.Context, containerID string) (*core.ServerStatus, error)
	streamLogsFunc  func(ctx context.Context, containerID string, follow bool, tail int) <-chan string
	healthyFunc     func(ctx context.Context, containerID string) (bool, string)
	listManagedFunc func(ctx context.Context) ([]runtime.ContainerSummary, error)
	pingFunc        func(ctx context.Context) error
}

func (f *fakeRuntime) Create(ctx context.Context, serverID string, cfg *core.ServerConfig) (string, core.ServerStatus) {
	if f.createFunc != nil {
		return f.createFunc(ctx, serverID, cfg)
	}
	return "", core.ServerStatus{State: core.StateError, ErrorMessage: "create not stubbed"}
}

func (f *fakeRuntime) Start(ctx context.Context, containerID string) core.ServerStatus {
	if f.startFunc != nil {
		return f.startFunc(ctx, containerID)
	}
	return core.ServerStatus{State: core.StateError, ErrorMessage: "start not stubbed"}
}

func (f *fakeRuntime) Stop(ctx context.Context, containerID string, timeout time.Duration) core.ServerStatus {
	if f.stopFunc != nil {
		return f.stopFunc(ctx, containerID, timeout)
	}
	return core.ServerStatus{State: core.StateError, ErrorMessage: "stop not stubbed"}
}

func (f *fakeRuntime) Restart(ctx context.Context, containerID string, timeout time.Duration) core.ServerStatus {
	if f.restartFunc != nil {
		return f.restartFunc(ctx, containerID, timeout)
	}
	return core.ServerStatus{State: core.StateError, ErrorMessage: "restart not stubbed"}
}

func (f *fakeRuntime) Remove(ctx context.Context, containerID string, force bool) bool {
	if f.removeFunc != nil {
		return f.removeFunc(ctx, containerID, force)
	}
	return true
}

func (f *fakeRuntime) Status(ctx context.Context, containerID string) (*core.ServerStatus, error) {
	if f.statusFunc != nil {
		return f.statusFunc(ctx, containerID)
	}
	return nil, nil
}

func (f *fakeRuntime) StreamLogs(ctx context.Context, containerID string, follow bool, tail int) <-chan string {
	if f.streamLogsFunc != nil {
		return f.streamLogsFunc(ctx, containerID, follow, tail)
	}
	ch := make(chan string)
	close(ch)
	return ch
}

func (f *fakeRuntime) Healthy(ctx context.Context, containerID string) (bool, string) {
	if f.healthyFunc != nil {
		return f.healthyFunc(ctx, containerID)
	}
	return true, ""
}

func (f *fakeRuntime) ListManaged(ctx context.Context) ([]runtime.ContainerSummary, error) {
	if f.listManagedFunc != nil {
		return f.listManagedFunc(ctx)
	}
	return nil, nil
}

func (f *fakeRuntime) Ping(ctx context.Context) error {
	if f.pingFunc != nil {
		return f.pingFunc(ctx)
	}
	return nil
}

// fakeTokens returns a fixed token for every user.
type fakeTokens struct {
	token string
}

func (f *fakeTokens) Get(_ context.Context, _ string) string {
	return f.token
}

// testServer builds a record owned by userID in the given state.
func testServer(id, userID string, state core.State, containerID string) *core.Server {
	return &core.Server{
		ID: id,
		Config: core.ServerConfig{
			Name:        "srv-" + id,
			Transport:   core.TransportSSE,
			Port:        8765,
			DockerImage: core.DefaultDockerImage,
			Environment: map[string]string{"USER_VAR": "1"},
		},
		Status: core.ServerStatus{
			ServerID:    id,
			State:       state,
			ContainerID: containerID,
		},
		CreatedBy: userID,
	}
}

// staticGet returns a getFunc serving copies of one record.
func staticGet(server *core.Server) func(ctx context.Context, id string) (*core.Server, error) {
	return func(_ context.Context, id string) (*core.Server, error) {
		if id != server.ID {
			return nil, mcperrors.NewNotFoundError("Server not found", nil)
		}
		cp := *server
		return &cp, nil
	}
}
