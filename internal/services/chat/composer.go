package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// Phase is the state of a Composer.
type Phase int

const (
	PhaseComposing Phase = iota
	PhaseSending
	PhaseCommitted
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhaseComposing:
		return "composing"
	case PhaseSending:
		return "sending"
	case PhaseCommitted:
		return "committed"
	case PhaseRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Outcome is the result of Composer.Submit.
type Outcome int

const (
	// OutcomeIgnored means the draft was empty or whitespace; nothing was sent.
	OutcomeIgnored Outcome = iota
	// OutcomeBusy means another send was in flight; nothing was sent.
	OutcomeBusy
	OutcomeCommitted
	OutcomeRolledBack
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeBusy:
		return "busy"
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// ComposerState is what a client renders for its input box.
type ComposerState struct {
	Phase Phase
	Draft string
	// Err is the failure of the last rolled back send.
	Err error
}

// SendFunc writes one message and reports whether it was stored.
type SendFunc func(ctx context.Context, text string) error

// Composer owns a chat input box with optimistic sending: the draft is
// cleared as soon as a send starts and restored verbatim if the send fails.
// A second Submit while a send is outstanding does nothing.
type Composer struct {
	send     SendFunc
	onChange func(ComposerState)
	inFlight atomic.Bool

	mu    sync.Mutex
	state ComposerState
}

// NewComposer creates a composer. onChange, if set, is called after every
// state transition.
func NewComposer(send SendFunc, onChange func(ComposerState)) *Composer {
	return &Composer{send: send, onChange: onChange}
}

// SetDraft replaces the draft text.
func (c *Composer) SetDraft(text string) {
	c.update(func(s *ComposerState) {
		s.Draft = text
		if s.Phase != PhaseSending {
			s.Phase = PhaseComposing
		}
	})
}

// State returns the current state.
func (c *Composer) State() ComposerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit sends the current draft.
func (c *Composer) Submit(ctx context.Context) (Outcome, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return OutcomeBusy, nil
	}
	defer c.inFlight.Store(false)

	c.mu.Lock()
	text := c.state.Draft
	if strings.TrimSpace(text) == "" {
		c.mu.Unlock()
		return OutcomeIgnored, nil
	}
	c.state = ComposerState{Phase: PhaseSending}
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)

	if err := c.send(ctx, text); err != nil {
		c.update(func(s *ComposerState) {
			*s = ComposerState{Phase: PhaseRolledBack, Draft: text, Err: err}
		})
		return OutcomeRolledBack, err
	}

	c.update(func(s *ComposerState) {
		s.Phase = PhaseCommitted
		s.Err = nil
	})
	return OutcomeCommitted, nil
}

func (c *Composer) update(fn func(*ComposerState)) {
	c.mu.Lock()
	fn(&c.state)
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

func (c *Composer) notify(s ComposerState) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
