/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Registry - live sessions keyed by ID.
 * Ended sessions stay readable until the next Create or an explicit Remove/Prune.
 */
package call

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/peer"
)

// Registry creates and tracks sessions
type Registry struct {
	sessions sync.Map

	mu              sync.RWMutex
	devices         media.Devices
	localSubstrate  peer.Substrate
	remoteSubstrate peer.Substrate
	opts            Options
	observer        Observer
}

// NewRegistry creates a registry whose sessions share devices and substrates
func NewRegistry(devices media.Devices, localSubstrate, remoteSubstrate peer.Substrate, opts Options) *Registry {
	return &Registry{
		devices:         devices,
		localSubstrate:  localSubstrate,
		remoteSubstrate: remoteSubstrate,
		opts:            opts,
	}
}

// SetObserver sets the observer handed to new sessions
func (r *Registry) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// Options returns the options new sessions get
func (r *Registry) Options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// Create discards ended sessions and returns a fresh Idle session
func (r *Registry) Create() *Session {
	r.Prune()

	r.mu.RLock()
	s := NewSession(uuid.NewString(), r.devices, r.localSubstrate, r.remoteSubstrate, r.opts)
	observer := r.observer
	r.mu.RUnlock()

	if observer != nil {
		s.SetObserver(observer)
		observer.SessionStateChanged("", StateIdle.String())
	}

	r.sessions.Store(s.ID(), s)
	return s
}

// Get returns a session by ID
func (r *Registry) Get(id string) (*Session, error) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Session), nil
	}
	return nil, ErrSessionNotFound
}

// List returns all sessions, oldest first
func (r *Registry) List() []*Session {
	var result []*Session
	r.sessions.Range(func(_, value interface{}) bool {
		result = append(result, value.(*Session))
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].createdAt.Before(result[j].createdAt)
	})
	return result
}

// Len returns the number of sessions held
func (r *Registry) Len() int {
	n := 0
	r.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Remove ends the session and forgets it
func (r *Registry) Remove(id string) error {
	v, ok := r.sessions.LoadAndDelete(id)
	if !ok {
		return ErrSessionNotFound
	}
	v.(*Session).End()
	return nil
}

// Prune forgets ended sessions and returns how many were dropped
func (r *Registry) Prune() int {
	n := 0
	r.sessions.Range(func(key, value interface{}) bool {
		if value.(*Session).State() == StateEnded {
			r.sessions.Delete(key)
			n++
		}
		return true
	})
	return n
}

// CloseAll ends and forgets every session
func (r *Registry) CloseAll() {
	r.sessions.Range(func(key, value interface{}) bool {
		value.(*Session).End()
		r.sessions.Delete(key)
		return true
	})
}
