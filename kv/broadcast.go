package kv

import (
	"context"
	"fmt"
)

// Broadcaster turns a store's change notifications into a pub/sub channel.
// Publishing writes the value and immediately removes it again, so nothing
// remains stored; subscribers observe the transient write.
type Broadcaster struct {
	store   Store
	watcher Watcher
	key     string
}

// NewBroadcaster creates a Broadcaster publishing on key.
func NewBroadcaster(s Store, w Watcher, key string) (*Broadcaster, error) {
	const op = "kv.NewBroadcaster"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: store is nil", op)
	case w == nil:
		return nil, fmt.Errorf("%s: watcher is nil", op)
	case key == "":
		return nil, fmt.Errorf("%s: key is empty", op)
	}
	return &Broadcaster{store: s, watcher: w, key: key}, nil
}

// Key returns the key the broadcaster publishes on.
func (b *Broadcaster) Key() string { return b.key }

// Publish announces value to every subscriber.
func (b *Broadcaster) Publish(ctx context.Context, value string) error {
	const op = "Broadcaster.Publish"
	if value == "" {
		return fmt.Errorf("%s: value is empty", op)
	}
	if err := b.store.Set(ctx, b.key, value, 0); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := b.store.Remove(ctx, b.key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Subscribe returns a channel of published values and a func that ends the
// subscription.  Removals are filtered out.
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
	changes, cancel := b.watcher.Watch(b.key)
	out := make(chan string, watchBuffer)
	go func() {
		defer close(out)
		for c := range changes {
			if c.NewValue == "" {
				continue
			}
			select {
			case out <- c.NewValue:
			default:
			}
		}
	}()
	return out, cancel
}
