// Package transcript reconciles the stream of interim and final transcript
// events into a consistent conversation history.
//
// Backends resend the full utterance text on every interim event, so an
// interim replaces whatever the reconciler holds for that response. A final
// freezes the utterance; anything arriving for the same response afterwards
// is a duplicate and is dropped.
package transcript

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrDuplicateFinal is returned for events targeting a response that has
// already been finalized. The stored utterance is left untouched.
var ErrDuplicateFinal = errors.New("transcript: response already finalized")

// Role identifies the speaker of an utterance.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Event is one transcript update from the backend. ResponseID may be empty
// on backends that do not correlate utterances.
type Event struct {
	ResponseID string
	Text       string
	Final      bool
	Role       Role
}

// Utterance is one reconciled utterance. Text is mutable until Final.
type Utterance struct {
	ResponseID string
	Role       Role
	Text       string
	Final      bool
	UpdatedAt  time.Time
}

// Reconciler folds transcript events into per-response utterances.
type Reconciler struct {
	mu    sync.Mutex
	byID  map[string]*Utterance
	order []string
	anon  int
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{byID: make(map[string]*Utterance)}
}

// Apply folds one event into the history and returns the utterance it now
// maps to. Duplicate events after a final return ErrDuplicateFinal; interim
// events without a response identifier cannot be correlated and are
// discarded with a nil utterance.
func (r *Reconciler) Apply(evt Event) (Utterance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := evt.ResponseID
	if id == "" {
		if !evt.Final {
			slog.Debug("transcript interim without response id discarded", "role", evt.Role)
			return Utterance{}, nil
		}
		// A final without a response id becomes a one-shot utterance under a
		// synthetic identifier so it still appears in the history.
		r.anon++
		id = fmt.Sprintf("anon-%d", r.anon)
	}

	u, ok := r.byID[id]
	if !ok {
		u = &Utterance{ResponseID: id, Role: evt.Role}
		r.byID[id] = u
		r.order = append(r.order, id)
	}

	if u.Final {
		slog.Warn("transcript event after final dropped", "response_id", id, "role", evt.Role)
		return *u, fmt.Errorf("%w: %s", ErrDuplicateFinal, id)
	}

	// Interim events carry the full text so far: replace, never append.
	u.Text = evt.Text
	u.Final = evt.Final
	u.UpdatedAt = time.Now()
	return *u, nil
}

// Get returns the utterance for a response identifier.
func (r *Reconciler) Get(responseID string) (Utterance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[responseID]
	if !ok {
		return Utterance{}, false
	}
	return *u, true
}

// History returns all utterances in arrival order.
func (r *Reconciler) History() []Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Utterance, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}
