package relay

import "sync"

// Handle identifies one registered connection. Handles are never reused
// within a process; the zero Handle is never issued.
type Handle uint64

// NoExclude broadcasts to every connection.
const NoExclude Handle = 0

// Peer is a registered connection as seen by a snapshot.
type Peer struct {
	Handle    Handle
	Transport Transport
}

// Binding is the identity a connection held when it was unregistered.
type Binding struct {
	DeviceID string
	UserID   int64
	HasUser  bool

	// Owner is true when this connection was the addressable connection
	// for DeviceID at the moment it was removed.
	Owner bool
}

type entry struct {
	transport Transport
	deviceID  string
	userID    int64
	hasUser   bool
}

// Registry tracks live connections and their bound identities.
// A single RWMutex guards both maps; raw maps never leave the type.
type Registry struct {
	mu      sync.RWMutex
	next    Handle
	conns   map[Handle]*entry
	devices map[string]Handle // deviceID -> addressable connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[Handle]*entry),
		devices: make(map[string]Handle),
	}
}

// Register adds an unbound connection and returns its handle.
func (r *Registry) Register(t Transport) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.conns[r.next] = &entry{transport: t}
	return r.next
}

// BindDevice binds h to deviceID and makes it the addressable connection
// for that device. If another connection was addressable for deviceID it is
// returned so the caller can close it. Unknown handles are ignored.
func (r *Registry) BindDevice(h Handle, deviceID string) (superseded Peer, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.conns[h]
	if !exists {
		return Peer{}, false
	}

	// Rebinding to a new id releases the old one.
	if e.deviceID != "" && e.deviceID != deviceID && r.devices[e.deviceID] == h {
		delete(r.devices, e.deviceID)
	}
	e.deviceID = deviceID

	prev, had := r.devices[deviceID]
	r.devices[deviceID] = h
	if !had || prev == h {
		return Peer{}, false
	}
	if old, live := r.conns[prev]; live {
		return Peer{Handle: prev, Transport: old.transport}, true
	}
	return Peer{}, false
}

// BindUser records the dashboard user behind h. Unknown handles are ignored.
func (r *Registry) BindUser(h Handle, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[h]; ok {
		e.userID = userID
		e.hasUser = true
	}
}

// Unregister removes h and returns what it was bound to. Only the first
// call for a handle reports true, so cleanup keyed on it runs once.
func (r *Registry) Unregister(h Handle) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[h]
	if !ok {
		return Binding{}, false
	}
	delete(r.conns, h)

	b := Binding{DeviceID: e.deviceID, UserID: e.userID, HasUser: e.hasUser}
	if e.deviceID != "" && r.devices[e.deviceID] == h {
		delete(r.devices, e.deviceID)
		b.Owner = true
	}
	return b, true
}

// FindByDevice returns the addressable connection for deviceID.
func (r *Registry) FindByDevice(deviceID string) (Handle, Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.devices[deviceID]
	if !ok {
		return 0, nil, false
	}
	return h, r.conns[h].transport, true
}

// All returns a snapshot of every registered connection. The slice is
// owned by the caller.
func (r *Registry) All() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]Peer, 0, len(r.conns))
	for h, e := range r.conns {
		peers = append(peers, Peer{Handle: h, Transport: e.transport})
	}
	return peers
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// DeviceCount returns the number of addressable devices.
func (r *Registry) DeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
