package relay

import (
	"context"
	"encoding/base64"
	"fmt"

	"pocketbridge/internal/logger"
	"pocketbridge/internal/registry"
	"pocketbridge/internal/telegram"
)

// injectText queues plain text for the focused conversation.
func (r *Relay) injectText(ctx context.Context, chatID int64, text, source string) {
	focus, inst, ok := r.focusedInstance(ctx, chatID)
	if !ok {
		return
	}
	r.enqueue("message injection", func(ctx context.Context) error {
		composed := r.composeInjection(text, source)
		if err := inst.Editor.SendMessage(ctx, composed); err != nil {
			return err
		}
		r.noteInjected(composed)
		logger.Info("message injected", "conversation", focus.Title, "source", source)
		return nil
	})
}

// handlePhoto downloads the largest size of an inbound photo and pastes
// it into the composer, sending the caption (or just the image) after.
func (r *Relay) handlePhoto(ctx context.Context, chatID int64, msg *telegram.Message) {
	_, inst, ok := r.focusedInstance(ctx, chatID)
	if !ok {
		return
	}
	// Sizes arrive smallest first.
	photo := msg.Photo[len(msg.Photo)-1]
	data, err := r.download(ctx, photo.FileID)
	if err != nil {
		r.send(ctx, chatID, "⚠️ photo download failed: "+err.Error())
		return
	}
	b64 := base64.StdEncoding.EncodeToString(data)
	caption := msg.Caption

	r.enqueue("photo injection", func(ctx context.Context) error {
		if err := inst.Editor.PasteImage(ctx, b64, "image/jpeg"); err != nil {
			return err
		}
		if caption != "" {
			composed := r.composeInjection(caption, "Phone")
			if err := inst.Editor.SendMessage(ctx, composed); err != nil {
				return err
			}
			r.noteInjected(composed)
			return nil
		}
		return inst.Editor.ClickSend(ctx)
	})
}

// handleVoice transcribes a voice note, echoes the transcript back for
// verification, and injects it tagged as voice input. Transcription
// failure degrades to a notice; the note is never silently dropped.
func (r *Relay) handleVoice(ctx context.Context, chatID int64, msg *telegram.Message) {
	if r.voice == nil {
		r.send(ctx, chatID, "Voice notes need a transcription key; none is configured.")
		return
	}
	data, err := r.download(ctx, msg.Voice.FileID)
	if err != nil {
		r.send(ctx, chatID, "⚠️ voice download failed: "+err.Error())
		return
	}
	text, err := r.voice.Transcribe(ctx, data, "voice.ogg")
	if err != nil {
		r.send(ctx, chatID, fmt.Sprintf("⚠️ could not transcribe voice note (%ds)", msg.Voice.Duration))
		return
	}
	r.send(ctx, chatID, "🎤 "+text)
	r.injectText(ctx, chatID, text, "Voice")
}

func (r *Relay) download(ctx context.Context, fileID string) ([]byte, error) {
	f, err := r.tg.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return r.tg.Download(ctx, f.FilePath)
}

// focusedInstance resolves the focus to a live instance, telling the
// user when there is nothing to inject into.
func (r *Relay) focusedInstance(ctx context.Context, chatID int64) (registry.Focus, *registry.Instance, bool) {
	focus := r.reg.CurrentFocus()
	if focus.IsZero() {
		r.send(ctx, chatID, "No conversation is focused. Use /chats to pick one.")
		return focus, nil, false
	}
	inst, ok := r.reg.Instance(focus.InstanceID)
	if !ok {
		r.send(ctx, chatID, "The focused window is gone. Use /chats to pick another conversation.")
		return focus, nil, false
	}
	return focus, inst, true
}
