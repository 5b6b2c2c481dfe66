package telegram

import (
	"context"
	"strings"
)

const (
	maxMessageRunes  = 4000
	maxThinkingRunes = 3500
	maxCaptionRunes  = 1024
	minSplitPoint    = 1000
)

// SendMessage sends text, splitting long messages at line breaks. Chunk
// sends are paced by the client's limiter so bursts don't trip flood
// control.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.call(ctx, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    chunk,
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

// SendMessageKeyboard sends text with an inline keyboard.
func (c *Client) SendMessageKeyboard(ctx context.Context, chatID int64, text string, kb Keyboard) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"reply_markup": map[string]any{"inline_keyboard": kb},
	}, nil)
}

// SendThinking sends reasoning text in italic with a 💭 prefix, falling
// back to plain text when the formatted parse is rejected.
func (c *Client) SendThinking(ctx context.Context, chatID int64, text string) error {
	if text == "" {
		return nil
	}
	if runes := []rune(text); len(runes) > maxThinkingRunes {
		cut := lastNewline(runes, maxThinkingRunes)
		if cut < minSplitPoint {
			cut = maxThinkingRunes
		}
		text = string(runes[:cut]) + "..."
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       "_💭 " + EscapeMarkdownV2(text) + "_",
		"parse_mode": "MarkdownV2",
	}, nil)
	if err == nil {
		return nil
	}
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    "💭 " + text,
	}, nil)
}

// SendPhoto sends PNG/JPEG bytes with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, data []byte, filename, caption string) error {
	return c.sendPhoto(ctx, chatID, data, filename, caption, nil)
}

// SendPhotoKeyboard sends a photo with an inline keyboard attached.
func (c *Client) SendPhotoKeyboard(ctx context.Context, chatID int64, data []byte, filename, caption string, kb Keyboard) error {
	return c.sendPhoto(ctx, chatID, data, filename, caption, kb)
}

func (c *Client) sendPhoto(ctx context.Context, chatID int64, data []byte, filename, caption string, kb Keyboard) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	fields := map[string]string{"chat_id": itoa(chatID)}
	if caption != "" {
		if runes := []rune(caption); len(runes) > maxCaptionRunes {
			caption = string(runes[:maxCaptionRunes])
		}
		fields["caption"] = caption
	}
	if kb != nil {
		markup, err := marshalKeyboard(kb)
		if err != nil {
			return err
		}
		fields["reply_markup"] = markup
	}
	return c.multipartCall(ctx, "sendPhoto", "photo", filename, data, fields)
}

// splitMessage chunks text at line breaks, falling back to a hard split
// when no break lands in a reasonable window.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > limit {
		split := lastNewline(runes, limit)
		if split < minSplitPoint {
			split = limit
		}
		chunks = append(chunks, string(runes[:split]))
		runes = runes[split:]
		for len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// lastNewline finds the last newline at or before limit, or -1.
func lastNewline(runes []rune, limit int) int {
	for i := limit; i >= 0; i-- {
		if i < len(runes) && runes[i] == '\n' {
			return i
		}
	}
	return -1
}

const markdownV2Special = `_*[]()~` + "`" + `>#+-=|{}.!`

// EscapeMarkdownV2 escapes special characters for MarkdownV2 parse mode.
func EscapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, ch := range text {
		if strings.ContainsRune(markdownV2Special, ch) {
			b.WriteByte('\\')
		}
		b.WriteRune(ch)
	}
	return b.String()
}
