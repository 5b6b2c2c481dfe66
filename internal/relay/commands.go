package relay

import (
	"context"
	"fmt"
	"strings"

	"pocketbridge/internal/logger"
	"pocketbridge/internal/render"
	"pocketbridge/internal/telegram"
)

// newChatSelector is the composer's new-conversation button.
const newChatSelector = `[aria-label^="New Chat"], [aria-label^="New Agent"]`

func (r *Relay) handleCommand(ctx context.Context, chatID int64, text string) {
	cmd := strings.ToLower(strings.Fields(text)[0])
	// Strip the @botname suffix group chats append.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start", "/help":
		r.send(ctx, chatID, helpText)
	case "/pause":
		r.setPaused(ctx, chatID, true)
	case "/play":
		r.setPaused(ctx, chatID, false)
	case "/screenshot":
		r.cmdScreenshot(ctx, chatID)
	case "/chats":
		r.cmdChats(ctx, chatID)
	case "/newchat":
		r.cmdNewChat(ctx, chatID)
	case "/status":
		r.cmdStatus(ctx, chatID)
	case "/unpair":
		r.cmdUnpair(ctx, chatID)
	case "/restart":
		r.cmdRestart(ctx, chatID)
	default:
		r.send(ctx, chatID, "Unknown command. "+helpText)
	}
}

const helpText = `Commands:
/pause - stop forwarding editor output (observation continues)
/play - resume forwarding
/screenshot - capture the focused editor window
/chats - pick the focused conversation
/newchat - open a new conversation
/status - bridge status
/restart - restart the bridge process
/unpair - release the owner lock`

// setPaused flips and persists the delivery gate.
func (r *Relay) setPaused(ctx context.Context, chatID int64, paused bool) {
	r.paused.Store(paused)
	if r.store != nil {
		if err := r.store.SetPaused(paused); err != nil {
			logger.Warn("persist pause failed", "error", err)
		}
	}
	if paused {
		r.send(ctx, chatID, "⏸ Paused. The editor keeps running; output is not forwarded.")
	} else {
		r.send(ctx, chatID, "▶️ Resumed.")
	}
	logger.Info("delivery gate changed", "paused", paused)
}

func (r *Relay) cmdScreenshot(ctx context.Context, chatID int64) {
	_, inst, ok := r.focusedInstance(ctx, chatID)
	if !ok {
		return
	}
	shot, err := render.NewScreenshot(inst.Editor).RenderWindow(ctx)
	if err != nil {
		r.send(ctx, chatID, "⚠️ screenshot failed: "+err.Error())
		return
	}
	if err := r.tg.SendPhoto(ctx, chatID, shot, "screenshot.png", ""); err != nil {
		logger.Warn("screenshot send failed", "error", err)
	}
}

// cmdChats sends the conversation picker: one button per conversation,
// grouped by window, the focused one marked.
func (r *Relay) cmdChats(ctx context.Context, chatID int64) {
	insts := r.reg.ListAll()
	if len(insts) == 0 {
		r.send(ctx, chatID, "No editor windows are connected.")
		return
	}
	focus := r.reg.CurrentFocus()

	var kb telegram.Keyboard
	for _, inst := range insts {
		ws := inst.Workspace()
		for _, conv := range inst.Conversations() {
			label := ws + " · " + titleOr(conv.Title, "(untitled)")
			if inst.TargetID == focus.InstanceID && conv.ID == focus.ConversationID {
				label = "✅ " + label
			}
			kb = append(kb, []telegram.Button{{
				Text:         label,
				CallbackData: "chat:" + inst.TargetID + ":" + conv.ID,
			}})
		}
	}
	if len(kb) == 0 {
		r.send(ctx, chatID, "No conversations found; open a chat in the editor first.")
		return
	}
	if err := r.tg.SendMessageKeyboard(ctx, chatID, "Pick a conversation:", kb); err != nil {
		logger.Warn("chat picker send failed", "error", err)
	}
}

func (r *Relay) cmdNewChat(ctx context.Context, chatID int64) {
	_, inst, ok := r.focusedInstance(ctx, chatID)
	if !ok {
		return
	}
	r.enqueue("new chat", func(ctx context.Context) error {
		return inst.Editor.ClickSelector(ctx, newChatSelector)
	})
	r.send(ctx, chatID, "Opening a new conversation.")
}

func (r *Relay) cmdStatus(ctx context.Context, chatID int64) {
	var b strings.Builder
	focus := r.reg.CurrentFocus()
	insts := r.reg.ListAll()

	fmt.Fprintf(&b, "Windows: %d\n", len(insts))
	total := 0
	for _, inst := range insts {
		total += len(inst.Conversations())
	}
	fmt.Fprintf(&b, "Conversations: %d\n", total)
	if focus.IsZero() {
		b.WriteString("Focus: none\n")
	} else {
		fmt.Fprintf(&b, "Focus: %s · %s\n", focus.Workspace, titleOr(focus.Title, "(untitled)"))
	}
	if r.paused.Load() {
		b.WriteString("Delivery: paused\n")
	} else {
		b.WriteString("Delivery: live\n")
	}
	r.send(ctx, chatID, b.String())
}

func (r *Relay) cmdUnpair(ctx context.Context, chatID int64) {
	if err := r.pair.Unpair(); err != nil {
		r.send(ctx, chatID, "⚠️ unpair failed: "+err.Error())
		return
	}
	r.send(ctx, chatID, "Unpaired. The next sender to message the bridge becomes the owner.")
}

// cmdRestart asks the supervisor hook to replace the process. The hook
// is installed by the CLI; without one the command just reports that.
func (r *Relay) cmdRestart(ctx context.Context, chatID int64) {
	if r.restart == nil {
		r.send(ctx, chatID, "Restart is not available in this mode.")
		return
	}
	r.send(ctx, chatID, "♻️ Restarting…")
	go func() {
		if err := r.restart(); err != nil {
			logger.Error("restart failed", "error", err)
		}
	}()
}

// SetRestart installs the process-restart hook.
func (r *Relay) SetRestart(fn func() error) {
	r.restart = fn
}
