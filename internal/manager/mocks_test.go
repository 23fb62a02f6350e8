package manager

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/jbweber/hearth/internal/alloc"
	"github.com/jbweber/hearth/internal/storage"
	"github.com/jbweber/hearth/internal/store"
	"github.com/jbweber/hearth/internal/task"
	"github.com/jbweber/hearth/internal/vm"
)

// mockExecutor records submitted requests and reports results set by the test.
type mockExecutor struct {
	mu sync.Mutex

	submitFunc func(req task.Request) error
	results    map[string]task.Result

	submitCalls []task.Request
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{results: map[string]task.Result{}}
}

func (e *mockExecutor) Submit(ctx context.Context, req task.Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitCalls = append(e.submitCalls, req)
	if e.submitFunc != nil {
		if err := e.submitFunc(req); err != nil {
			return "", err
		}
	}
	return req.ID, nil
}

func (e *mockExecutor) Poll(ctx context.Context, id string) (task.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.results[id]; ok {
		return r, nil
	}
	return task.Result{ID: id, State: task.StatePending}, nil
}

func (e *mockExecutor) finish(id string, state task.State, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[id] = task.Result{ID: id, State: state, Error: msg}
}

func (e *mockExecutor) last() task.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitCalls[len(e.submitCalls)-1]
}

// mockHypervisor answers state queries from a map keyed by VM id.
type mockHypervisor struct {
	mu     sync.Mutex
	states map[string]vm.DomainState
	err    error

	putCalls []string
}

func newMockHypervisor() *mockHypervisor {
	return &mockHypervisor{states: map[string]vm.DomainState{}}
}

func (h *mockHypervisor) DomainState(ctx context.Context, vmID string) (vm.DomainState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return vm.StateNoState, h.err
	}
	return h.states[vmID], nil
}

func (h *mockHypervisor) DomainXML(ctx context.Context, vmID string) (string, error) {
	return "<domain/>", nil
}

func (h *mockHypervisor) PutDomainXML(ctx context.Context, vmID, xml string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.putCalls = append(h.putCalls, xml)
	return nil
}

func (h *mockHypervisor) ListDomains(ctx context.Context) ([]vm.DomainInfo, error) {
	return nil, nil
}

type mockImages struct{}

func (mockImages) ListBaseImages() ([]storage.Image, error) {
	return []storage.Image{{Name: "base.qcow2", Format: storage.FormatQCOW2}}, nil
}

func (mockImages) ListISOs() ([]storage.Image, error) { return nil, nil }

type testEnv struct {
	m     *Manager
	store *store.Memory
	exec  *mockExecutor
	hv    *mockHypervisor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	env := &testEnv{store: st, exec: newMockExecutor(), hv: newMockHypervisor()}
	log := zaptest.NewLogger(t)
	env.m = New(Deps{
		Store:      st,
		Ports:      alloc.NewPortAllocator(st, 0, 0, log),
		Executor:   env.exec,
		Hypervisor: env.hv,
		Images:     mockImages{},
		Log:        log,
	})
	return env
}

func baseImageRequest(name string) CreateVMRequest {
	return CreateVMRequest{
		Name:      name,
		CPU:       2,
		MemoryKB:  2097152,
		FromImage: true,
		BaseImage: "base.qcow2",
	}
}
