package registry

import (
	"context"
	"time"

	"pocketbridge/internal/editor"
	"pocketbridge/internal/logger"
	"pocketbridge/internal/state"
)

// Origin records which side initiated a focus change. Needed for echo
// suppression: when the relay switches conversations it clicks the tab,
// and the editor-side detector would otherwise report that same switch
// back as a user action.
type Origin int

const (
	OriginEditor Origin = iota
	OriginRelay
)

func (o Origin) String() string {
	if o == OriginRelay {
		return "relay"
	}
	return "editor"
}

// Focus identifies the single conversation the monitor streams and the
// relay injects into.
type Focus struct {
	InstanceID     string
	Workspace      string
	ConversationID string
	Title          string
}

func (f Focus) IsZero() bool {
	return f.InstanceID == "" && f.ConversationID == ""
}

func (f Focus) same(g Focus) bool {
	return f.InstanceID == g.InstanceID && f.ConversationID == g.ConversationID
}

// CurrentFocus returns the focused conversation, zero when none.
func (r *Registry) CurrentFocus() Focus {
	r.focusMu.Lock()
	defer r.focusMu.Unlock()
	return r.focus
}

// SetFocus is the single compare-and-set point for focus. It returns
// whether the focus actually changed: a signal matching the current
// focus only updates the title, and an editor-side signal matching a
// pending relay-initiated switch is swallowed as an echo.
func (r *Registry) SetFocus(f Focus, origin Origin) bool {
	r.focusMu.Lock()
	if origin == OriginEditor && r.echo != nil && r.echo.same(f) {
		r.echo = nil
		r.focusMu.Unlock()
		return false
	}
	if r.focus.same(f) {
		r.focus.Title = f.Title
		r.focusMu.Unlock()
		return false
	}
	prev := r.focus
	r.focus = f
	if origin == OriginRelay {
		echo := f
		r.echo = &echo
	} else {
		r.echo = nil
	}
	r.focusMu.Unlock()

	logger.Info("focus changed",
		"from", prev.Title, "to", f.Title,
		"workspace", f.Workspace, "origin", origin.String())
	r.persistFocus(f)
	return true
}

// clearFocusIf drops the focus when it points at the given instance
// (and, if convID is non-empty, that specific conversation).
func (r *Registry) clearFocusIf(instanceID, convID string) {
	r.focusMu.Lock()
	defer r.focusMu.Unlock()
	if r.focus.InstanceID != instanceID {
		return
	}
	if convID != "" && r.focus.ConversationID != convID {
		return
	}
	r.focus = Focus{}
	r.echo = nil
}

func (r *Registry) persistFocus(f Focus) {
	if r.store == nil {
		return
	}
	err := r.store.SetFocus(state.FocusPointer{
		Workspace:         f.Workspace,
		ConversationID:    f.ConversationID,
		ConversationTitle: f.Title,
	})
	if err != nil {
		logger.Warn("persist focus failed", "error", err)
	}
}

// RestoreFocus re-establishes the persisted focus after a restart,
// matching by workspace (target ids do not survive editor restarts) and
// then by conversation id or title. Best effort: a stale pointer is
// simply left for the detector to replace.
func (r *Registry) RestoreFocus(ctx context.Context) {
	if r.store == nil {
		return
	}
	fp, ok, err := r.store.Focus()
	if err != nil || !ok {
		return
	}
	for _, in := range r.ListAll() {
		ws := in.Workspace()
		if ws != fp.Workspace {
			continue
		}
		for _, c := range in.Conversations() {
			if c.ID == fp.ConversationID || (fp.ConversationTitle != "" && c.Title == fp.ConversationTitle) {
				if err := in.Editor.SwitchToConversation(ctx, c.ID); err != nil {
					logger.Debug("restore focus switch failed", "error", err)
				}
				r.SetFocus(Focus{
					InstanceID:     in.TargetID,
					Workspace:      ws,
					ConversationID: c.ID,
					Title:          c.Title,
				}, OriginRelay)
				logger.Info("focus restored", "workspace", ws, "conversation", c.Title)
				return
			}
		}
	}
}

// DetectFocus runs one detection pass over all instances. Signals in
// priority order: tab observer mutations, document focus with an active
// chat element, then a non-inactive editor-group chat.
func (r *Registry) DetectFocus(ctx context.Context) {
	insts := r.ListAll()

	for _, in := range insts {
		ac, err := in.Editor.PollTabObserver(ctx)
		if err != nil || ac == nil || ac.ID == "" {
			continue
		}
		r.SetFocus(r.focusFor(in, ac), OriginEditor)
		return
	}

	for _, in := range insts {
		ac, err := in.Editor.CheckChatFocus(ctx)
		if err != nil || ac == nil || ac.ID == "" {
			continue
		}
		r.SetFocus(r.focusFor(in, ac), OriginEditor)
		return
	}

	for _, in := range insts {
		ac, err := in.Editor.ActiveEditorGroupChat(ctx)
		if err != nil || ac == nil || ac.ID == "" {
			continue
		}
		r.SetFocus(r.focusFor(in, ac), OriginEditor)
		return
	}
}

// RunFocusDetector polls for focus signals until the context ends.
func (r *Registry) RunFocusDetector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.DetectFocus(ctx)
		}
	}
}

func (r *Registry) focusFor(in *Instance, ac *editor.ActiveChat) Focus {
	title := ac.Title
	if title == "" {
		if c, ok := in.Conversation(ac.ID); ok {
			title = c.Title
		}
	}
	return Focus{
		InstanceID:     in.TargetID,
		Workspace:      in.Workspace(),
		ConversationID: ac.ID,
		Title:          title,
	}
}
