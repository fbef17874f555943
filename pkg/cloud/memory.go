package cloud

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/natfailover/pkg/types"
)

// Operation names accepted by Memory.FailNext and Memory.Calls
const (
	OpDescribeRoute    = "DescribeRoute"
	OpReplaceRoute     = "ReplaceRoute"
	OpCreateRoute      = "CreateRoute"
	OpDescribeInstance = "DescribeInstance"
	OpStopInstance     = "StopInstance"
	OpStartInstance    = "StartInstance"
)

type injectedFailure struct {
	err       error
	remaining int
}

// Memory is an in-process control plane. It backs dry runs and tests, and
// behaves like EC2 for the calls the controller makes: power operations
// settle immediately unless SetLagging is used.
type Memory struct {
	mu        sync.Mutex
	routes    map[string]map[string]string
	instances map[string]*types.Instance
	lagging   map[string]bool
	failures  map[string]*injectedFailure
	calls     map[string]int
}

// NewMemory creates an empty control plane
func NewMemory() *Memory {
	return &Memory{
		routes:    make(map[string]map[string]string),
		instances: make(map[string]*types.Instance),
		lagging:   make(map[string]bool),
		failures:  make(map[string]*injectedFailure),
		calls:     make(map[string]int),
	}
}

// NewMemoryForPair seeds the steady state of a pair: both instances running
// and each node's tables routed through it
func NewMemoryForPair(nodes ...types.Node) *Memory {
	m := NewMemory()
	for _, node := range nodes {
		m.AddInstance(types.Instance{ID: node.InstanceID, State: types.InstanceStateRunning, PrivateIP: node.Address})
		for _, table := range node.RouteTables() {
			m.SetRoute(table, types.DefaultRouteCIDR, node.InstanceID)
		}
	}
	return m
}

// AddRouteTable registers an empty route table
func (m *Memory) AddRouteTable(table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[table]; !ok {
		m.routes[table] = make(map[string]string)
	}
}

// SetRoute sets a route directly, creating the table if needed
func (m *Memory) SetRoute(table, cidr, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[table]; !ok {
		m.routes[table] = make(map[string]string)
	}
	m.routes[table][cidr] = target
}

// Route returns the current target of a route
func (m *Memory) Route(table, cidr string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.routes[table][cidr]
	return target, ok
}

// AddInstance registers an instance
func (m *Memory) AddInstance(inst types.Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := inst
	m.instances[inst.ID] = &copied
}

// SetInstanceState forces an instance into state
func (m *Memory) SetInstanceState(id string, state types.InstanceState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[id]; ok {
		inst.State = state
	}
}

// SetLagging makes power operations on id leave the instance in the
// transitional state (stopping, pending) until SetInstanceState is called
func (m *Memory) SetLagging(id string, lagging bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lagging[id] = lagging
}

// FailNext makes the next times calls of op against target return err.
// target is a route table for route operations and an instance ID otherwise.
func (m *Memory) FailNext(op, target string, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op+"/"+target] = &injectedFailure{err: err, remaining: times}
}

// Calls returns how many times op was invoked against target, successful
// or not
func (m *Memory) Calls(op, target string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op+"/"+target]
}

// record counts the call and returns an injected failure if one is armed.
// Must be called with mu held.
func (m *Memory) record(op, target string) error {
	key := op + "/" + target
	m.calls[key]++
	if f, ok := m.failures[key]; ok && f.remaining > 0 {
		f.remaining--
		return f.err
	}
	return nil
}

func (m *Memory) DescribeRoute(ctx context.Context, table, cidr string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpDescribeRoute, table); err != nil {
		return "", false, err
	}
	routes, ok := m.routes[table]
	if !ok {
		return "", false, fmt.Errorf("describe route table %s: %w", table, ErrNotFound)
	}
	target, found := routes[cidr]
	return target, found, nil
}

func (m *Memory) ReplaceRoute(ctx context.Context, table, cidr, instanceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpReplaceRoute, table); err != nil {
		return err
	}
	routes, ok := m.routes[table]
	if !ok {
		return fmt.Errorf("replace route in %s: %w", table, ErrNotFound)
	}
	if _, ok := routes[cidr]; !ok {
		return fmt.Errorf("replace route %s in %s: %w", cidr, table, ErrNotFound)
	}
	if _, ok := m.instances[instanceID]; !ok {
		return fmt.Errorf("replace route %s in %s: instance %s: %w", cidr, table, instanceID, ErrNotFound)
	}
	routes[cidr] = instanceID
	return nil
}

func (m *Memory) CreateRoute(ctx context.Context, table, cidr, instanceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpCreateRoute, table); err != nil {
		return err
	}
	routes, ok := m.routes[table]
	if !ok {
		return fmt.Errorf("create route in %s: %w", table, ErrNotFound)
	}
	if _, ok := routes[cidr]; ok {
		return fmt.Errorf("create route %s in %s: %w", cidr, table, ErrRouteExists)
	}
	if _, ok := m.instances[instanceID]; !ok {
		return fmt.Errorf("create route %s in %s: instance %s: %w", cidr, table, instanceID, ErrNotFound)
	}
	routes[cidr] = instanceID
	return nil
}

func (m *Memory) DescribeInstance(ctx context.Context, instanceID string) (types.Instance, error) {
	if err := ctx.Err(); err != nil {
		return types.Instance{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpDescribeInstance, instanceID); err != nil {
		return types.Instance{}, err
	}
	inst, ok := m.instances[instanceID]
	if !ok {
		return types.Instance{}, fmt.Errorf("describe instance %s: %w", instanceID, ErrNotFound)
	}
	return *inst, nil
}

func (m *Memory) StopInstance(ctx context.Context, instanceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpStopInstance, instanceID); err != nil {
		return err
	}
	inst, ok := m.instances[instanceID]
	if !ok {
		return fmt.Errorf("stop instance %s: %w", instanceID, ErrNotFound)
	}

	switch inst.State {
	case types.InstanceStateStopped, types.InstanceStateStopping:
		return nil
	case types.InstanceStateRunning:
		if m.lagging[instanceID] {
			inst.State = types.InstanceStateStopping
		} else {
			inst.State = types.InstanceStateStopped
		}
		inst.PublicIP = ""
		return nil
	default:
		return fmt.Errorf("stop instance %s in state %s: %w", instanceID, inst.State, ErrIncorrectState)
	}
}

func (m *Memory) StartInstance(ctx context.Context, instanceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(OpStartInstance, instanceID); err != nil {
		return err
	}
	inst, ok := m.instances[instanceID]
	if !ok {
		return fmt.Errorf("start instance %s: %w", instanceID, ErrNotFound)
	}

	switch inst.State {
	case types.InstanceStateRunning, types.InstanceStatePending:
		return nil
	case types.InstanceStateStopped:
		if m.lagging[instanceID] {
			inst.State = types.InstanceStatePending
		} else {
			inst.State = types.InstanceStateRunning
		}
		return nil
	default:
		return fmt.Errorf("start instance %s in state %s: %w", instanceID, inst.State, ErrIncorrectState)
	}
}
