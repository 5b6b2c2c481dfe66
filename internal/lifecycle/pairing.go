// Package lifecycle owns process identity: who may talk to the bridge,
// whether another bridge is already running, and restarts.
package lifecycle

import (
	"errors"
	"sync"

	"pocketbridge/internal/logger"
	"pocketbridge/internal/state"
)

// ErrNotAuthorized is returned for senders other than the paired owner.
var ErrNotAuthorized = errors.New("lifecycle: sender is not the paired owner")

// AuthResult classifies an inbound sender.
type AuthResult int

const (
	// AuthOK: the sender is the paired owner.
	AuthOK AuthResult = iota
	// AuthPaired: no owner existed; this sender just won the lock.
	AuthPaired
	// AuthRejected: an owner exists and this sender is not it.
	AuthRejected
)

// Pairing enforces the first-sender-wins owner lock. The lock persists
// across restarts; only an explicit unpair releases it.
type Pairing struct {
	store *state.Store

	mu      sync.Mutex
	ownerID int64
	chatID  int64
	bound   bool
}

func NewPairing(store *state.Store) (*Pairing, error) {
	p := &Pairing{store: store}
	pr, ok, err := store.Pairing()
	if err != nil {
		return nil, err
	}
	if ok {
		p.ownerID = pr.OwnerID
		p.chatID = pr.ChatID
		p.bound = true
		logger.Info("pairing restored", "owner", pr.OwnerID)
	}
	return p, nil
}

// Authorize classifies a sender and, when unpaired, binds the first one.
// The delivery chat follows the owner: a new chat id from the owner is
// recorded so proactive sends reach the right conversation.
func (p *Pairing) Authorize(senderID, chatID int64) (AuthResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.bound {
		if err := p.store.SetPairing(state.Pairing{OwnerID: senderID, ChatID: chatID}); err != nil {
			return AuthRejected, err
		}
		p.ownerID = senderID
		p.chatID = chatID
		p.bound = true
		logger.Info("paired with sender", "owner", senderID)
		return AuthPaired, nil
	}
	if senderID != p.ownerID {
		logger.Warn("rejected sender", "sender", senderID)
		return AuthRejected, nil
	}
	if chatID != p.chatID {
		if err := p.store.SetChatID(chatID); err != nil {
			return AuthOK, err
		}
		p.chatID = chatID
	}
	return AuthOK, nil
}

// ChatID returns the delivery chat for proactive sends; zero when
// unpaired.
func (p *Pairing) ChatID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.bound {
		return 0
	}
	return p.chatID
}

// Paired reports whether an owner lock exists.
func (p *Pairing) Paired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bound
}

// Unpair releases the owner lock.
func (p *Pairing) Unpair() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.ClearPairing(); err != nil {
		return err
	}
	p.bound = false
	p.ownerID = 0
	p.chatID = 0
	logger.Info("pairing cleared")
	return nil
}
