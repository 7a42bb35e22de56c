// timer/timer.go
package timer

import (
	"container/heap"
	"strings"
	"sync"
	"time"
)

// Task is one scheduled callback, addressed by key.
type Task struct {
	Key      string
	Execute  time.Time
	Callback func()
	index    int
}

type Queue []*Task

func (q Queue) Len() int { return len(q) }

func (q Queue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q Queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *Queue) Push(x interface{}) {
	n := len(*q)
	task := x.(*Task)
	task.index = n
	*q = append(*q, task)
}

func (q *Queue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// Manager 定时器管理: a heap of one-shot timers keyed by name.
// Scheduling a key that is already pending replaces it. Due callbacks
// run on their own goroutine, outside the manager's lock.
type Manager struct {
	queue      Queue
	byKey      map[string]*Task
	mutex      sync.Mutex
	resolution time.Duration
	wake       chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	now        func() time.Time
}

// NewManager starts a manager that checks for due timers every
// resolution.
func NewManager(resolution time.Duration) *Manager {
	if resolution <= 0 {
		resolution = 50 * time.Millisecond
	}
	m := &Manager{
		queue:      make(Queue, 0),
		byKey:      make(map[string]*Task),
		resolution: resolution,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	heap.Init(&m.queue)
	go m.process()
	return m
}

// Schedule runs fn after delay, replacing any pending timer with the same key.
func (m *Manager) Schedule(key string, delay time.Duration, fn func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if old, ok := m.byKey[key]; ok {
		heap.Remove(&m.queue, old.index)
	}
	task := &Task{Key: key, Execute: m.now().Add(delay), Callback: fn}
	heap.Push(&m.queue, task)
	m.byKey[key] = task

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Cancel drops the timer for key; it reports whether one was pending.
func (m *Manager) Cancel(key string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task, ok := m.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&m.queue, task.index)
	delete(m.byKey, key)
	return true
}

// CancelPrefix drops every timer whose key starts with prefix.
func (m *Manager) CancelPrefix(prefix string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	n := 0
	for key, task := range m.byKey {
		if strings.HasPrefix(key, prefix) {
			heap.Remove(&m.queue, task.index)
			delete(m.byKey, key)
			n++
		}
	}
	return n
}

// Pending reports whether key is scheduled and how long until it fires.
func (m *Manager) Pending(key string) (time.Duration, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task, ok := m.byKey[key]
	if !ok {
		return 0, false
	}
	return task.Execute.Sub(m.now()), true
}

// Len is the number of pending timers.
func (m *Manager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.queue.Len()
}

// Stop halts the manager; pending timers never fire.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) process() {
	ticker := time.NewTicker(m.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		case <-m.wake:
		}

		for _, task := range m.due() {
			go task.Callback()
		}
	}
}

func (m *Manager) due() []*Task {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := m.now()
	var out []*Task
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			break
		}
		heap.Pop(&m.queue)
		delete(m.byKey, task.Key)
		out = append(out, task)
	}
	return out
}
