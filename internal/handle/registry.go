// Package handle keeps produced blobs addressable until they are released.
// A handle stays valid until Release or ReleaseOwner is called for it.
package handle

import (
	"sync"
	"time"

	"github.com/dunamismax/filezenith/internal/id"
)

type Handle struct {
	ID        string    `json:"id"`
	Owner     string    `json:"-"`
	Name      string    `json:"name"`
	MimeType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type entry struct {
	handle Handle
	data   []byte
}

type Registry struct {
	mu    sync.Mutex
	blobs map[string]entry
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		blobs: make(map[string]entry),
		now:   time.Now,
	}
}

func (r *Registry) Acquire(owner, name, mimeType string, data []byte) Handle {
	h := Handle{
		ID:        id.New(),
		Owner:     owner,
		Name:      name,
		MimeType:  mimeType,
		Size:      len(data),
		CreatedAt: r.now().UTC(),
	}

	r.mu.Lock()
	r.blobs[h.ID] = entry{handle: h, data: data}
	r.mu.Unlock()
	return h
}

func (r *Registry) Open(handleID string) (Handle, []byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.blobs[handleID]
	if !ok {
		return Handle{}, nil, false
	}
	return e.handle, e.data, true
}

// Release drops a handle. It reports false when the handle was unknown or
// already released.
func (r *Registry) Release(handleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.blobs[handleID]; !ok {
		return false
	}
	delete(r.blobs, handleID)
	return true
}

// ReleaseOwner drops every handle acquired by owner and returns how many
// were released.
func (r *Registry) ReleaseOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for handleID, e := range r.blobs {
		if e.handle.Owner == owner {
			delete(r.blobs, handleID)
			released++
		}
	}
	return released
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blobs)
}

// Bytes reports the total size of live blobs.
func (r *Registry) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total int64
	for _, e := range r.blobs {
		total += int64(len(e.data))
	}
	return total
}
