package queue

// Option applies a configuration option to the PriorityQueue.
type Option func(*PriorityQueue)

// WithCapacity caps the number of pending jobs.
func WithCapacity(capacity int) Option {
	return func(q *PriorityQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// WithFinishedLimit caps how many finished jobs are retained for status
// queries before the oldest are evicted.
func WithFinishedLimit(limit int) Option {
	return func(q *PriorityQueue) {
		if limit > 0 {
			q.finishedLimit = limit
		}
	}
}
