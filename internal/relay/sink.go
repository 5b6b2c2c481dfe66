package relay

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"pocketbridge/internal/editor"
	"pocketbridge/internal/logger"
	"pocketbridge/internal/registry"
	"pocketbridge/internal/render"
)

// The relay is the monitor's delivery sink; these methods run on the
// monitor's tick goroutine and must not block on the injection queue.

func (r *Relay) DeliverText(ctx context.Context, text string) error {
	chatID := r.pair.ChatID()
	if chatID == 0 {
		return nil
	}
	return r.tg.SendMessage(ctx, chatID, text)
}

func (r *Relay) DeliverThinking(ctx context.Context, text string) error {
	chatID := r.pair.ChatID()
	if chatID == 0 {
		return nil
	}
	return r.tg.SendThinking(ctx, chatID, text)
}

// DeliverRich sends a screenshot of the rendered element with the text
// as caption, degrading to plain text when rendering fails.
func (r *Relay) DeliverRich(ctx context.Context, focus registry.Focus, sec editor.Section) error {
	chatID := r.pair.ChatID()
	if chatID == 0 {
		return nil
	}
	if inst, ok := r.reg.Instance(focus.InstanceID); ok && sec.Selector != "" {
		shot, err := render.NewScreenshot(inst.Editor).RenderElement(ctx, sec.Selector)
		if err == nil {
			return r.tg.SendPhoto(ctx, chatID, shot, string(sec.Type)+".png", richCaption(sec))
		}
		logger.Debug("rich render failed, falling back to text", "type", string(sec.Type), "error", err)
	}
	return r.tg.SendMessage(ctx, chatID, sec.Text)
}

func richCaption(sec editor.Section) string {
	switch sec.Type {
	case editor.SectionFileEdit:
		return "📝 " + sec.Text
	case editor.SectionTable:
		return ""
	default:
		return ""
	}
}

// DeliverUserTurn forwards a turn typed directly in the editor, tagged
// so the phone can tell it apart from streamed output.
func (r *Relay) DeliverUserTurn(ctx context.Context, text string, images []string) error {
	chatID := r.pair.ChatID()
	if chatID == 0 {
		return nil
	}
	if err := r.tg.SendMessage(ctx, chatID, "[PC] "+text); err != nil {
		return err
	}
	for _, src := range images {
		data, name, ok := resolveImage(src)
		if !ok {
			continue
		}
		if err := r.tg.SendPhoto(ctx, chatID, data, name, ""); err != nil {
			logger.Warn("user image forward failed", "error", err)
		}
	}
	return nil
}

// resolveImage loads an attached image from either an inline data URI or
// a local file URL.
func resolveImage(src string) (data []byte, name string, ok bool) {
	switch {
	case strings.HasPrefix(src, "data:"):
		i := strings.Index(src, "base64,")
		if i < 0 {
			return nil, "", false
		}
		data, err := base64.StdEncoding.DecodeString(src[i+len("base64,"):])
		if err != nil {
			return nil, "", false
		}
		return data, "attachment.png", true
	case strings.HasPrefix(src, "vscode-file://"):
		path := editor.VSCodeURLToPath(src)
		if path == "" {
			return nil, "", false
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", false
		}
		return data, filepath.Base(path), true
	}
	return nil, "", false
}

// NotifyContextFill arms the one-shot annotation appended to the next
// injection.
func (r *Relay) NotifyContextFill(percent int) {
	r.contextFill.Store(int32(percent))
}

func (r *Relay) Typing(ctx context.Context) error {
	chatID := r.pair.ChatID()
	if chatID == 0 {
		return nil
	}
	return r.tg.SendTyping(ctx, chatID)
}
