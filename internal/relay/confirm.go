package relay

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"pocketbridge/internal/editor"
	"pocketbridge/internal/logger"
	"pocketbridge/internal/registry"
	"pocketbridge/internal/render"
	"pocketbridge/internal/rules"
	"pocketbridge/internal/telegram"
)

// DeliverConfirmation routes a pending action prompt through the rule
// engine. Allowed actions are accepted in the editor without asking;
// denied ones are reported but the reject button is never clicked on the
// user's behalf; everything else becomes an interactive prompt.
func (r *Relay) DeliverConfirmation(ctx context.Context, focus registry.Focus, sec editor.Section) error {
	chatID := r.pair.ChatID()
	if chatID == 0 {
		return nil
	}

	switch r.rules.Evaluate(sec.Text) {
	case rules.Allow:
		// Auto-click only conservative accept buttons; anything like
		// "Allow always" falls through to the interactive path.
		if _, ok := rules.PickAccept([]string{sec.AcceptLabel}); ok {
			return r.autoAccept(ctx, chatID, focus, sec)
		}
	case rules.Deny:
		r.send(ctx, chatID, "⛔ Blocked by rules (not rejected in the editor):\n"+sec.Text)
		return nil
	}
	return r.askConfirmation(ctx, chatID, focus, sec)
}

func (r *Relay) autoAccept(ctx context.Context, chatID int64, focus registry.Focus, sec editor.Section) error {
	r.enqueue("auto-accept", func(ctx context.Context) error {
		inst, ok := r.reg.Instance(focus.InstanceID)
		if !ok {
			return nil
		}
		if err := inst.Editor.ClickSelector(ctx, sec.AcceptSelector); err != nil {
			return err
		}
		logger.Info("action auto-accepted", "conversation", focus.Title, "button", sec.AcceptLabel)
		// Passive notice with a picture of what was approved.
		shot, err := render.NewScreenshot(inst.Editor).RenderElement(ctx, sec.Selector)
		if err != nil {
			r.send(ctx, chatID, "✅ Auto-accepted:\n"+sec.Text)
			return nil
		}
		if err := r.tg.SendPhoto(ctx, chatID, shot, "action.png", "✅ Auto-accepted: "+sec.Text); err != nil {
			logger.Warn("auto-accept notice failed", "error", err)
		}
		return nil
	})
	return nil
}

func (r *Relay) askConfirmation(ctx context.Context, chatID int64, focus registry.Focus, sec editor.Section) error {
	token := uuid.NewString()[:8]
	r.confirmMu.Lock()
	r.confirms[token] = pendingConfirm{focus: focus, sec: sec}
	r.confirmMu.Unlock()

	kb := telegram.Keyboard{{
		{Text: "✅ " + labelOr(sec.AcceptLabel, "Accept"), CallbackData: "ca:" + token},
		{Text: "❌ " + labelOr(sec.RejectLabel, "Reject"), CallbackData: "cr:" + token},
	}}
	caption := "Confirmation needed:\n" + sec.Text

	if inst, ok := r.reg.Instance(focus.InstanceID); ok && sec.Selector != "" {
		if shot, err := render.NewScreenshot(inst.Editor).RenderElement(ctx, sec.Selector); err == nil {
			return r.tg.SendPhotoKeyboard(ctx, chatID, shot, "confirm.png", caption, kb)
		}
	}
	return r.tg.SendMessageKeyboard(ctx, chatID, caption, kb)
}

func (r *Relay) handleCallback(ctx context.Context, chatID int64, cb *telegram.CallbackQuery) {
	switch {
	case strings.HasPrefix(cb.Data, "chat:"):
		r.callbackSwitchChat(ctx, chatID, cb)
	case strings.HasPrefix(cb.Data, "ca:"):
		r.callbackConfirm(ctx, chatID, cb, true)
	case strings.HasPrefix(cb.Data, "cr:"):
		r.callbackConfirm(ctx, chatID, cb, false)
	default:
		r.answer(ctx, cb.ID, "")
	}
}

func (r *Relay) callbackConfirm(ctx context.Context, chatID int64, cb *telegram.CallbackQuery, accept bool) {
	token := cb.Data[3:]
	r.confirmMu.Lock()
	pc, ok := r.confirms[token]
	if ok {
		delete(r.confirms, token)
	}
	r.confirmMu.Unlock()
	if !ok {
		r.answer(ctx, cb.ID, "This prompt already expired.")
		return
	}

	selector := pc.sec.AcceptSelector
	verb := "Accepted"
	if !accept {
		selector = pc.sec.RejectSelector
		verb = "Rejected"
	}
	r.answer(ctx, cb.ID, verb)
	r.enqueue("confirmation click", func(ctx context.Context) error {
		inst, ok := r.reg.Instance(pc.focus.InstanceID)
		if !ok {
			r.send(ctx, chatID, "⚠️ The window with that prompt is gone.")
			return nil
		}
		if err := inst.Editor.ClickSelector(ctx, selector); err != nil {
			return err
		}
		logger.Info("confirmation resolved", "conversation", pc.focus.Title, "accepted", accept)
		return nil
	})
}

// callbackSwitchChat handles picker selections: chat:<instance>:<conv>.
func (r *Relay) callbackSwitchChat(ctx context.Context, chatID int64, cb *telegram.CallbackQuery) {
	parts := strings.SplitN(cb.Data, ":", 3)
	if len(parts) != 3 {
		r.answer(ctx, cb.ID, "")
		return
	}
	instanceID, convID := parts[1], parts[2]
	inst, ok := r.reg.Instance(instanceID)
	if !ok {
		r.answer(ctx, cb.ID, "That window is gone.")
		return
	}
	conv, ok := inst.Conversation(convID)
	if !ok {
		r.answer(ctx, cb.ID, "That conversation is gone.")
		return
	}

	crossWindow := r.reg.CurrentFocus().InstanceID != instanceID
	r.answer(ctx, cb.ID, "Switching to "+titleOr(conv.Title, "(untitled)"))
	r.enqueue("chat switch", func(ctx context.Context) error {
		if crossWindow {
			if err := inst.Editor.Conn().BringToFront(ctx); err != nil {
				logger.Debug("bring to front failed", "error", err)
			}
		}
		if err := inst.Editor.SwitchToConversation(ctx, convID); err != nil {
			return err
		}
		r.reg.SetFocus(registry.Focus{
			InstanceID:     instanceID,
			Workspace:      inst.Workspace(),
			ConversationID: convID,
			Title:          conv.Title,
		}, registry.OriginRelay)
		return nil
	})
}

func (r *Relay) answer(ctx context.Context, callbackID, text string) {
	if err := r.tg.AnswerCallback(ctx, callbackID, text); err != nil {
		logger.Debug("callback answer failed", "error", err)
	}
}

func labelOr(label, fallback string) string {
	if strings.TrimSpace(label) == "" {
		return fallback
	}
	return label
}
