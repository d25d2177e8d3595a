// Package presence tracks, per session, the set of identities currently
// online and the mapping from live connection to (session, identity). It is
// purely in-memory: lost on restart and rebuilt as clients reconnect.
package presence

import "sync"

// connRef binds a connection id to its (session, identity) pair.
type connRef struct {
	sessionID string
	username  string
}

// sessionPresence keeps the online set of one session. Usernames are kept in
// insertion order for deterministic client display; refs counts live
// connections per username so multiple tabs collapse into one set entry.
type sessionPresence struct {
	order []string
	refs  map[string]int
}

// Registry is the in-process presence store. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionPresence
	conns    map[string]connRef
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*sessionPresence),
		conns:    make(map[string]connRef),
	}
}

// Admit records a connection for (sessionID, username). It is idempotent with
// respect to the online set: admitting a second connection for the same
// identity only bumps its refcount. Returns true when the identity just
// transitioned to online.
func (r *Registry) Admit(connID, sessionID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[connID] = connRef{sessionID: sessionID, username: username}

	sp, ok := r.sessions[sessionID]
	if !ok {
		sp = &sessionPresence{refs: make(map[string]int)}
		r.sessions[sessionID] = sp
	}
	sp.refs[username]++
	if sp.refs[username] == 1 {
		sp.order = append(sp.order, username)
		return true
	}
	return false
}

// Remove drops a connection. When it was the identity's last connection in
// the session, the identity leaves the online set (last=true); when the
// session's set becomes empty, the room entry is garbage-collected. Unknown
// connection ids return ok=false.
func (r *Registry) Remove(connID string) (sessionID, username string, last, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, found := r.conns[connID]
	if !found {
		return "", "", false, false
	}
	delete(r.conns, connID)

	sp, found := r.sessions[ref.sessionID]
	if !found {
		return ref.sessionID, ref.username, false, true
	}

	sp.refs[ref.username]--
	if sp.refs[ref.username] <= 0 {
		delete(sp.refs, ref.username)
		for i, name := range sp.order {
			if name == ref.username {
				sp.order = append(sp.order[:i], sp.order[i+1:]...)
				break
			}
		}
		last = true
	}
	if len(sp.refs) == 0 {
		delete(r.sessions, ref.sessionID)
	}
	return ref.sessionID, ref.username, last, true
}

// ListOnline returns a snapshot of the session's online identities in
// insertion order.
func (r *Registry) ListOnline(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sp, ok := r.sessions[sessionID]
	if !ok {
		return []string{}
	}
	out := make([]string, len(sp.order))
	copy(out, sp.order)
	return out
}

// IsOnline reports whether the identity has at least one live connection in
// the session.
func (r *Registry) IsOnline(sessionID, username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sp, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	return sp.refs[username] > 0
}

// Lookup resolves a connection id back to its (session, identity) pair.
func (r *Registry) Lookup(connID string) (sessionID, username string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, found := r.conns[connID]
	return ref.sessionID, ref.username, found
}
