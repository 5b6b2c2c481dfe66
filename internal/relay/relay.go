// Package relay is the phone-facing half of the bridge: it polls the
// messaging API, authorizes the paired owner, and turns inbound traffic
// into editor injections.
package relay

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pocketbridge/internal/editor"
	"pocketbridge/internal/lifecycle"
	"pocketbridge/internal/logger"
	"pocketbridge/internal/registry"
	"pocketbridge/internal/rules"
	"pocketbridge/internal/state"
	"pocketbridge/internal/telegram"
	"pocketbridge/internal/transcribe"
)

const pollTimeoutSec = 50

// Relay couples the messaging client to the editor through the registry.
// It is also the monitor's delivery sink, so a single component owns the
// outbound chat and the inbound injection queue.
type Relay struct {
	tg     *telegram.Client
	reg    *registry.Registry
	rules  *rules.Engine
	pair   *lifecycle.Pairing
	store  *state.Store
	voice  transcribe.Transcriber
	paused *atomic.Bool

	// noteInjected tells the monitor what text the bridge itself pushed
	// into the editor, so the turn is not forwarded back.
	noteInjected func(text string)

	inject chan injection

	confirmMu sync.Mutex
	confirms  map[string]pendingConfirm

	// contextFill holds a percent to annotate onto the next injection;
	// zero means nothing pending.
	contextFill atomic.Int32

	// restart replaces the running process; installed by the CLI.
	restart func() error
}

type pendingConfirm struct {
	focus registry.Focus
	sec   editor.Section
}

func New(tg *telegram.Client, reg *registry.Registry, eng *rules.Engine, pair *lifecycle.Pairing, store *state.Store, voice transcribe.Transcriber, paused *atomic.Bool, noteInjected func(string)) *Relay {
	if noteInjected == nil {
		noteInjected = func(string) {}
	}
	return &Relay{
		tg:           tg,
		reg:          reg,
		rules:        eng,
		pair:         pair,
		store:        store,
		voice:        voice,
		paused:       paused,
		noteInjected: noteInjected,
		inject:       make(chan injection, 16),
		confirms:     make(map[string]pendingConfirm),
	}
}

// RunPoller long-polls for updates until the context ends. The backlog
// is drained first so messages sent while the bridge was down are not
// replayed into the editor.
func (r *Relay) RunPoller(ctx context.Context) {
	offset, n, err := r.tg.Drain(ctx)
	if err != nil {
		logger.Warn("update drain failed", "error", err)
	} else if n > 0 {
		logger.Info("drained stale updates", "count", n)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := r.tg.GetUpdates(ctx, offset, pollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("update poll failed", "error", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			r.handleUpdate(ctx, u)
		}
	}
}

func (r *Relay) handleUpdate(ctx context.Context, u telegram.Update) {
	senderID, chatID, ok := senderOf(u)
	if !ok {
		return
	}

	res, err := r.pair.Authorize(senderID, chatID)
	if err != nil {
		logger.Error("authorize failed", "error", err)
		return
	}
	switch res {
	case lifecycle.AuthRejected:
		if u.Message != nil {
			r.send(ctx, chatID, "This bridge is paired with another account.")
		}
		return
	case lifecycle.AuthPaired:
		r.send(ctx, chatID, "Paired. This chat now controls the editor; send text to inject it, /chats to pick a conversation.")
	}

	if u.CallbackQuery != nil {
		r.handleCallback(ctx, chatID, u.CallbackQuery)
		return
	}
	msg := u.Message
	if msg == nil {
		return
	}

	switch {
	case msg.Voice != nil:
		r.handleVoice(ctx, chatID, msg)
	case len(msg.Photo) > 0:
		r.handlePhoto(ctx, chatID, msg)
	case strings.HasPrefix(msg.Text, "/"):
		r.handleCommand(ctx, chatID, msg.Text)
	case strings.TrimSpace(msg.Text) != "":
		r.injectText(ctx, chatID, msg.Text, "Phone")
	}
}

// senderOf extracts the acting user and chat from either update shape.
func senderOf(u telegram.Update) (senderID, chatID int64, ok bool) {
	if u.Message != nil && u.Message.From != nil {
		return u.Message.From.ID, u.Message.Chat.ID, true
	}
	if u.CallbackQuery != nil {
		cb := u.CallbackQuery
		if cb.Message != nil {
			return cb.From.ID, cb.Message.Chat.ID, true
		}
		return cb.From.ID, 0, false
	}
	return 0, 0, false
}

// send delivers chat text, logging instead of propagating failures: the
// relay never lets a flaky send break update handling.
func (r *Relay) send(ctx context.Context, chatID int64, text string) {
	if chatID == 0 {
		return
	}
	if err := r.tg.SendMessage(ctx, chatID, text); err != nil {
		logger.Warn("relay send failed", "error", err)
	}
}

// NotifyEvent forwards registry changes (new windows, opened and closed
// conversations) to the owner chat.
func (r *Relay) NotifyEvent(ctx context.Context, ev registry.Event) {
	chatID := r.pair.ChatID()
	if chatID == 0 || r.paused.Load() {
		return
	}
	switch ev.Kind {
	case registry.EventConversationOpened:
		r.send(ctx, chatID, "💬 New chat in "+ev.Workspace+": "+titleOr(ev.Title, "(untitled)"))
	case registry.EventConversationClosed:
		r.send(ctx, chatID, "✖️ Chat closed in "+ev.Workspace+": "+titleOr(ev.Title, "(untitled)"))
	case registry.EventInstanceOpened:
		r.send(ctx, chatID, "🪟 Editor window connected: "+ev.Workspace)
	case registry.EventInstanceClosed:
		r.send(ctx, chatID, "🪟 Editor window closed: "+ev.Workspace)
	}
}

func titleOr(title, fallback string) string {
	if title == "" {
		return fallback
	}
	return title
}
