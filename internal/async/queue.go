package async

import "sync"

// Queue runs functions asynchronously while keeping functions that share a
// key in submission order. Functions with different keys run concurrently.
type Queue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
	wg    sync.WaitGroup
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{tails: make(map[string]chan struct{})}
}

// Go schedules fn after every earlier function submitted with the same key.
func (q *Queue) Go(key string, fn func()) {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = done
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if prev != nil {
			<-prev
		}
		fn()
		close(done)

		q.mu.Lock()
		if q.tails[key] == done {
			delete(q.tails, key)
		}
		q.mu.Unlock()
	}()
}

// Wait blocks until every submitted function has returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}
