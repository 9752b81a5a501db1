package middleware

// Immediate flushes on every item (pass-through)
type Immediate[T any] struct {
	onFlush FlushFunc[T]
}

func NewImmediate[T any](onFlush FlushFunc[T]) *Immediate[T] {
	return &Immediate[T]{onFlush: onFlush}
}

func (c *Immediate[T]) Add(item T) {
	c.onFlush([]T{item})
}

func (c *Immediate[T]) Close() {}
