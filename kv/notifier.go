package kv

import "sync"

// watchBuffer is the number of changes a slow subscriber may lag behind
// before further changes for it are dropped.
const watchBuffer = 16

// Notifier fans out changes to subscribers.  It implements Watcher and is
// meant to be embedded by Store implementations.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Change
}

// ensure that Notifier implements the Watcher interface
var _ Watcher = (*Notifier)(nil)

// Watch implements the Watcher interface.
func (n *Notifier) Watch(key string) (<-chan Change, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = map[string]map[int]chan Change{}
	}
	if n.subs[key] == nil {
		n.subs[key] = map[int]chan Change{}
	}
	id := n.nextID
	n.nextID++
	ch := make(chan Change, watchBuffer)
	n.subs[key][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if subs, ok := n.subs[key]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(n.subs, key)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Notify delivers c to every subscriber of c.Key.  Delivery never blocks; a
// subscriber whose buffer is full misses the change.
func (n *Notifier) Notify(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs[c.Key] {
		select {
		case ch <- c:
		default:
		}
	}
}
