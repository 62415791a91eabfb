package model

import "sync"

// Subscription is a disposable observer registration.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the observer. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// observers is a copy-on-notify list of callbacks.
type observers[E any] struct {
	mu     sync.Mutex
	nextID uint64
	fns    map[uint64]func(E)
	order  []uint64
}

func (o *observers[E]) add(fn func(E)) *Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.fns == nil {
		o.fns = make(map[uint64]func(E))
	}
	o.nextID++
	id := o.nextID
	o.fns[id] = fn
	o.order = append(o.order, id)

	return &Subscription{cancel: func() { o.remove(id) }}
}

func (o *observers[E]) remove(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.fns, id)
	for i, existing := range o.order {
		if existing == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}

// notify calls every observer in registration order without holding the lock.
func (o *observers[E]) notify(event E) {
	o.mu.Lock()
	fns := make([]func(E), 0, len(o.order))
	for _, id := range o.order {
		fns = append(fns, o.fns[id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}
