package buffer

// Option configures a Ring
type Option[T any] func(*ringOptions[T])

type ringOptions[T any] struct {
	dropCallback DropCallback[T]
}

// WithDropCallback sets a function called with each evicted item
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *ringOptions[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](options ...Option[T]) *ringOptions[T] {
	opts := &ringOptions[T]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
