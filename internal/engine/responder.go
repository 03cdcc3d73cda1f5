package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SendFunc delivers one response to the transport and returns a response
// identifier. The transport may return its own id; an empty id is replaced
// with a generated one.
type SendFunc func(ctx context.Context, status int, body any) (string, error)

// Responder owns a request's send callback. It issues one logical response
// at a time and lets task helpers rebind (or the pipeline detach) the
// callback by response id, so a finished request cannot accidentally send
// twice.
type Responder struct {
	mu     sync.Mutex
	send   SendFunc
	lastID string
}

// NewResponder wraps the transport's send callback.
func NewResponder(send SendFunc) *Responder {
	return &Responder{send: send}
}

// Send invokes the current callback and records the returned id. Returns
// ErrResponseSent when the callback has been detached.
func (r *Responder) Send(ctx context.Context, status int, body any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.send == nil {
		return "", ErrResponseSent
	}
	id, err := r.send(ctx, status, body)
	if err != nil {
		return "", fmt.Errorf("send response: %w", err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	r.lastID = id
	return id, nil
}

// SetSendResponse rebinds the callback for id, or detaches it when fn is
// nil. The id must be the one returned by the most recent Send.
func (r *Responder) SetSendResponse(id string, fn SendFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" || id != r.lastID {
		return fmt.Errorf("engine: unknown response id %q", id)
	}
	r.send = fn
	return nil
}
