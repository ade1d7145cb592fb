package channel

import (
	"fmt"
	"sync"

	"avaneesh/dnp3-bridge/pkg/link"
)

// Session receives the link frames addressed to it
type Session interface {
	// OnReceive is called from the channel read loop for every frame whose
	// destination matches LinkAddress
	OnReceive(frame *link.Frame) error

	LinkAddress() uint16
}

// Router routes link frames to sessions by destination address
type Router struct {
	sessions map[uint16]Session
	mu       sync.RWMutex
}

// NewRouter creates a new router
func NewRouter() *Router {
	return &Router{sessions: make(map[uint16]Session)}
}

// AddSession adds a session to the router
func (r *Router) AddSession(session Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := session.LinkAddress()
	if _, exists := r.sessions[addr]; exists {
		return fmt.Errorf("session with address %d already exists", addr)
	}
	r.sessions[addr] = session
	return nil
}

// RemoveSession removes a session from the router
func (r *Router) RemoveSession(address uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, address)
}

// Route delivers a frame to the session at its destination address
func (r *Router) Route(frame *link.Frame) error {
	r.mu.RLock()
	session, exists := r.sessions[frame.Destination]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("no session found for address %d", frame.Destination)
	}
	return session.OnReceive(frame)
}

// SessionCount returns the number of registered sessions
func (r *Router) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
