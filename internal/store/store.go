// Package store holds the client-side cache of tasks shared by every view.
//
// A [TaskStore] is created once at startup and passed to whatever needs it. Mutations replace the backing
// slice under a lock, so readers holding an earlier [TaskStore.Tasks] result never see it change.
package store

import (
	"slices"
	"sync"

	"github.com/desertthunder/crawlctl/internal/models"
)

// ChangeKind identifies the mutation that produced a [Change].
type ChangeKind int

const (
	ChangeReset ChangeKind = iota
	ChangeAdd
	ChangeUpdate
	ChangeRemove
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeReset:
		return "reset"
	case ChangeAdd:
		return "add"
	case ChangeUpdate:
		return "update"
	case ChangeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change describes one applied mutation. TaskID is empty for [ChangeReset].
type Change struct {
	Kind   ChangeKind
	TaskID string
}

// Listener is called after every applied mutation.
type Listener func(Change)

// TaskStore is an ordered collection of tasks, newest first.
type TaskStore struct {
	mu        sync.RWMutex
	tasks     []models.Task
	listeners map[int]Listener
	nextID    int
}

// New creates an empty store.
func New() *TaskStore {
	return &TaskStore{listeners: make(map[int]Listener)}
}

// SetAll replaces the whole collection.
func (s *TaskStore) SetAll(tasks []models.Task) {
	next := make([]models.Task, len(tasks))
	for i, t := range tasks {
		next[i] = t.Clone()
	}

	s.mu.Lock()
	s.tasks = next
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReset})
}

// Add inserts task at the front. A task whose id is already present is ignored and Add reports false.
func (s *TaskStore) Add(task models.Task) bool {
	s.mu.Lock()
	if indexOf(s.tasks, task.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	next := make([]models.Task, 0, len(s.tasks)+1)
	next = append(next, task.Clone())
	next = append(next, s.tasks...)
	s.tasks = next
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAdd, TaskID: task.ID})
	return true
}

// Update merges fields into the task with the given id. Unknown ids are ignored and Update reports false.
func (s *TaskStore) Update(taskID string, fields models.TaskFields) bool {
	s.mu.Lock()
	i := indexOf(s.tasks, taskID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	next := slices.Clone(s.tasks)
	next[i] = fields.Apply(next[i])
	s.tasks = next
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUpdate, TaskID: taskID})
	return true
}

// Remove deletes the task with the given id, reporting whether it was present.
func (s *TaskStore) Remove(taskID string) bool {
	s.mu.Lock()
	i := indexOf(s.tasks, taskID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	next := make([]models.Task, 0, len(s.tasks)-1)
	next = append(next, s.tasks[:i]...)
	next = append(next, s.tasks[i+1:]...)
	s.tasks = next
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRemove, TaskID: taskID})
	return true
}

// Tasks returns a copy of the collection in display order.
func (s *TaskStore) Tasks() []models.Task {
	s.mu.RLock()
	current := s.tasks
	s.mu.RUnlock()

	out := make([]models.Task, len(current))
	for i, t := range current {
		out[i] = t.Clone()
	}
	return out
}

// Get returns a copy of the task with the given id.
func (s *TaskStore) Get(taskID string) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := indexOf(s.tasks, taskID); i >= 0 {
		return s.tasks[i].Clone(), true
	}
	return models.Task{}, false
}

// Has reports whether a task with the given id is present.
func (s *TaskStore) Has(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.tasks, taskID) >= 0
}

func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// ActiveIDs returns the ids of tasks that have not reached a terminal status.
func (s *TaskStore) ActiveIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, t := range s.tasks {
		if t.Active() {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Subscribe registers fn for change notifications and returns a function that removes it.
//
// Listeners run on the mutating goroutine after the lock is released, so they may read the store.
func (s *TaskStore) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *TaskStore) notify(c Change) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

func indexOf(tasks []models.Task, id string) int {
	return slices.IndexFunc(tasks, func(t models.Task) bool { return t.ID == id })
}
