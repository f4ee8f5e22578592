package llm

import (
	"errors"
	"sync"
)

// ErrNoClient is returned by Holder.Get before any source was configured.
var ErrNoClient = errors.New("no AI source configured")

// Holder keeps the active client. Switching source or model replaces the
// client while turns that already hold the old one finish with it.
type Holder struct {
	mu     sync.RWMutex
	client *Client
	err    error
}

// NewHolder creates a holder with an initial client or construction error.
func NewHolder(client *Client, err error) *Holder {
	h := &Holder{}
	h.Set(client, err)
	return h
}

// Get returns the active client, or the error that prevented building it.
func (h *Holder) Get() (*Client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.client == nil {
		if h.err != nil {
			return nil, h.err
		}
		return nil, ErrNoClient
	}
	return h.client, nil
}

// Set replaces the active client.
func (h *Holder) Set(client *Client, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.client, h.err = client, err
}
