package workflow

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity 内存中保留的最近执行结果数
const DefaultHistoryCapacity = 256

// ExecutionHistoryStore 保存最近的执行结果，供查询与排障。
// 容量满后淘汰最早的结果；不做持久化。
type ExecutionHistoryStore struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	results  map[string]*Result
}

// NewExecutionHistoryStore creates a store bounded to capacity results.
func NewExecutionHistoryStore(capacity int) *ExecutionHistoryStore {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &ExecutionHistoryStore{
		capacity: capacity,
		results:  make(map[string]*Result),
	}
}

// Save records a finished execution.
func (s *ExecutionHistoryStore) Save(result *Result) {
	if result == nil || result.ExecutionID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[result.ExecutionID]; !exists {
		s.order = append(s.order, result.ExecutionID)
	}
	s.results[result.ExecutionID] = result
	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.results, oldest)
	}
}

// Get retrieves an execution by ID
func (s *ExecutionHistoryStore) Get(executionID string) (*Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[executionID]
	return r, ok
}

// ListByWorkflow returns executions of a workflow, oldest first.
func (s *ExecutionHistoryStore) ListByWorkflow(workflowID string) []*Result {
	return s.filter(func(r *Result) bool { return r.WorkflowID == workflowID })
}

// ListByStatus returns executions with a specific status
func (s *ExecutionHistoryStore) ListByStatus(status Status) []*Result {
	return s.filter(func(r *Result) bool { return r.Status == status })
}

// ListByTimeRange returns executions started within [start, end].
func (s *ExecutionHistoryStore) ListByTimeRange(start, end time.Time) []*Result {
	return s.filter(func(r *Result) bool {
		return !r.StartedAt.Before(start) && !r.StartedAt.After(end)
	})
}

// Len returns the number of stored executions.
func (s *ExecutionHistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *ExecutionHistoryStore) filter(keep func(*Result) bool) []*Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Result
	for _, id := range s.order {
		if r := s.results[id]; keep(r) {
			out = append(out, r)
		}
	}
	return out
}
