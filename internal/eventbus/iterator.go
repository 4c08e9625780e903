package eventbus

import "context"

// Iterator yields the events of a subscription that a filter accepts,
// converted to T.
type Iterator[T any] struct {
	sub    *Subscription
	filter func(Event) (T, bool)
}

// Filter wraps sub. The iterator owns sub; Cancel closes it.
func Filter[T any](sub *Subscription, filter func(Event) (T, bool)) *Iterator[T] {
	return &Iterator[T]{sub: sub, filter: filter}
}

// Next returns the next accepted value, or ErrClosed after Cancel.
func (it *Iterator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		ev, err := it.sub.Next(ctx)
		if err != nil {
			return zero, err
		}
		if v, ok := it.filter(ev); ok {
			return v, nil
		}
	}
}

func (it *Iterator[T]) Cancel() { it.sub.Close() }
