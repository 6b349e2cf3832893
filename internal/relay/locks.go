package relay

import "sync"

// deviceLocks serialises status and info updates per device id.
// Entries are reference counted and dropped when the last holder unlocks,
// so the map only holds devices with in-flight updates.
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[string]*refMutex)}
}

// lock acquires the mutex for deviceID and returns its release func.
func (d *deviceLocks) lock(deviceID string) (unlock func()) {
	d.mu.Lock()
	m, ok := d.locks[deviceID]
	if !ok {
		m = &refMutex{}
		d.locks[deviceID] = m
	}
	m.refs++
	d.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		d.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(d.locks, deviceID)
		}
		d.mu.Unlock()
	}
}

// size reports how many device ids currently have a lock entry.
func (d *deviceLocks) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}
