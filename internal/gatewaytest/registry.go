package gatewaytest

import (
	"sync"
)

// subscriber is one SUBSCRIBE frame: a session and the id the client chose.
type subscriber struct {
	session *session
	id      string
}

// Registry tracks live STOMP sessions and their subscriptions.
// ARCHITECTURAL DISCOVERY: pure bookkeeping, the frame loop owns all I/O
type Registry struct {
	mu            sync.RWMutex
	sessions      map[string]*session
	byDestination map[string]map[*session]map[string]struct{} // destination -> session -> subscription ids
	bySession     map[*session]map[string]string              // session -> subscription id -> destination
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:      make(map[string]*session),
		byDestination: make(map[string]map[*session]map[string]struct{}),
		bySession:     make(map[*session]map[string]string),
	}
}

func (r *Registry) register(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.id] = s
	r.bySession[s] = make(map[string]string)
}

// unregister drops a session and every subscription it held. Idempotent.
func (r *Registry) unregister(s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, destination := range r.bySession[s] {
		r.removeLocked(s, id, destination)
	}
	delete(r.bySession, s)
	delete(r.sessions, s.id)
}

func (r *Registry) subscribe(s *session, id, destination string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.bySession[s]
	if !ok {
		return
	}
	if previous, exists := subs[id]; exists {
		r.removeLocked(s, id, previous)
	}
	subs[id] = destination

	if r.byDestination[destination] == nil {
		r.byDestination[destination] = make(map[*session]map[string]struct{})
	}
	if r.byDestination[destination][s] == nil {
		r.byDestination[destination][s] = make(map[string]struct{})
	}
	r.byDestination[destination][s][id] = struct{}{}
}

func (r *Registry) unsubscribe(s *session, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if destination, ok := r.bySession[s][id]; ok {
		r.removeLocked(s, id, destination)
	}
}

// removeLocked also prunes empty maps so destinations do not accumulate.
func (r *Registry) removeLocked(s *session, id, destination string) {
	delete(r.bySession[s], id)

	sessions, ok := r.byDestination[destination]
	if !ok {
		return
	}
	delete(sessions[s], id)
	if len(sessions[s]) == 0 {
		delete(sessions, s)
	}
	if len(sessions) == 0 {
		delete(r.byDestination, destination)
	}
}

func (r *Registry) subscribers(destination string) []subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []subscriber
	for s, ids := range r.byDestination[destination] {
		for id := range ids {
			out = append(out, subscriber{session: s, id: id})
		}
	}
	return out
}

func (r *Registry) all() []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Stats reports live sessions and distinct subscribed destinations.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"sessions":     len(r.sessions),
		"destinations": len(r.byDestination),
	}
}
