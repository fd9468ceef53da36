package ring

// Producer is the single-writer handle for a Ring. Holding a *Producer
// rather than the raw *Ring documents, at the type level, that only one
// goroutine may ever call Push.
type Producer[T any] struct {
	r *Ring[T]
}

// NewProducer wraps a ring for exclusive single-producer use.
func NewProducer[T any](r *Ring[T]) *Producer[T] { return &Producer[T]{r: r} }

func (p *Producer[T]) Push(v T)             { p.r.Push(v) }
func (p *Producer[T]) TryPush(v T) (T, bool) { return p.r.TryPush(v) }
func (p *Producer[T]) Snapshot() Snapshot   { return p.r.Snapshot() }

// Consumer is a reader handle for a Ring. Any number of Consumers may
// share the same underlying Ring (competing-consumers pattern): each
// popped element is delivered to exactly one of them.
type Consumer[T any] struct {
	r *Ring[T]
}

// NewConsumer wraps a ring for reading. Multiple Consumers over the same
// Ring compete for pops; they never see the same element twice.
func NewConsumer[T any](r *Ring[T]) *Consumer[T] { return &Consumer[T]{r: r} }

func (c *Consumer[T]) Pop() (T, bool)     { return c.r.Pop() }
func (c *Consumer[T]) PopBatch(n int) []T { return c.r.PopBatch(n) }
func (c *Consumer[T]) Depth() uint64      { return c.r.Depth() }
func (c *Consumer[T]) Snapshot() Snapshot { return c.r.Snapshot() }
