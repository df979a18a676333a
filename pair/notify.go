package pair

import "sync"

// notifier fans a "changed" signal out to subscribers. Each subscriber owns a
// channel with room for one pending signal; further signals while one is
// pending are dropped, so a slow reader sees one wake-up per burst.
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}
}

func (n *notifier) subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]chan struct{})
	}
	id := n.nextID
	n.nextID++
	ch := make(chan struct{}, 1)
	n.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
	return ch, cancel
}

// publish signals every subscriber and returns how many were signalled.
func (n *notifier) publish() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return len(n.subs)
}
