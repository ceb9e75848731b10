package queue

// Enqueue rejection reasons, used as metric labels.
const (
	reasonClosed    = "closed"
	reasonFull      = "queue_full"
	reasonCancelled = "context_cancelled"
)
