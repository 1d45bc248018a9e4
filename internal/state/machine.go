package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// 会话状态常量
const (
	StateIdle    = "idle"
	StateActive  = "active"
	StatePaused  = "paused"
	StateStopped = "stopped"
)

// 事件常量
const (
	EventStart  = "start"
	EventPause  = "pause"
	EventResume = "resume"
	EventStop   = "stop"
)

// ErrInvalidTransition 当前状态下不允许该事件
var ErrInvalidTransition = errors.New("invalid session transition")

// SessionState 会话状态
type SessionState struct {
	SessionID      string    `json:"session_id"`
	UserID         int64     `json:"user_id"`
	CurrentState   string    `json:"state"`
	Since          time.Time `json:"since"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyM      float64   `json:"accuracy_m"`
	TotalDistanceM float64   `json:"total_distance_m"`
	SpeedMps       float64   `json:"speed_mps"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
	NewSegments    int       `json:"new_segments"`
	PointCount     int       `json:"point_count"`
}

// Machine 会话状态机
type Machine struct {
	mu            sync.RWMutex
	userID        int64
	fsm           *fsm.FSM
	state         *SessionState
	onStateChange func(userID int64, from, to string)
}

// NewMachine 创建状态机
func NewMachine(userID int64, initialState string, onStateChange func(userID int64, from, to string)) *Machine {
	if initialState == "" {
		initialState = StateIdle
	}

	m := &Machine{
		userID:        userID,
		onStateChange: onStateChange,
		state: &SessionState{
			UserID:       userID,
			CurrentState: initialState,
			Since:        time.Now(),
		},
	}

	m.fsm = fsm.NewFSM(
		initialState,
		fsm.Events{
			// 从 idle / stopped 状态
			{Name: EventStart, Src: []string{StateIdle, StateStopped}, Dst: StateActive},

			// 从 active 状态
			{Name: EventPause, Src: []string{StateActive}, Dst: StatePaused},
			{Name: EventStop, Src: []string{StateActive, StatePaused}, Dst: StateStopped},

			// 从 paused 状态
			{Name: EventResume, Src: []string{StatePaused}, Dst: StateActive},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if m.onStateChange != nil && e.Src != e.Dst {
					m.onStateChange(m.userID, e.Src, e.Dst)
				}
			},
		},
	)

	return m
}

// CurrentState 获取当前状态
func (m *Machine) CurrentState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// GetState 获取完整状态
func (m *Machine) GetState() *SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// 返回副本
	stateCopy := *m.state
	stateCopy.CurrentState = m.fsm.Current()
	return &stateCopy
}

// UpdateState 更新状态数据
func (m *Machine) UpdateState(update func(s *SessionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	update(m.state)
}

// Trigger 触发事件
// 非法转换返回 ErrInvalidTransition，调用方据此区分客户端错误与内部错误
func (m *Machine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, invalid.Event, invalid.State)
		}
		return fmt.Errorf("trigger event %s: %w", event, err)
	}

	m.state.CurrentState = m.fsm.Current()
	m.state.Since = time.Now()
	return nil
}

// CanTransition 检查是否可以转换
func (m *Machine) CanTransition(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}

// Manager 状态机管理器
type Manager struct {
	mu       sync.RWMutex
	machines map[int64]*Machine
	onChange func(userID int64, from, to string)
}

// NewManager 创建管理器
func NewManager(onChange func(userID int64, from, to string)) *Manager {
	return &Manager{
		machines: make(map[int64]*Machine),
		onChange: onChange,
	}
}

// GetOrCreate 获取或创建状态机
func (m *Manager) GetOrCreate(userID int64, initialState string) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine, ok := m.machines[userID]; ok {
		return machine
	}

	machine := NewMachine(userID, initialState, m.onChange)
	m.machines[userID] = machine
	return machine
}

// Get 获取状态机
func (m *Manager) Get(userID int64) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.machines[userID]
	return machine, ok
}
