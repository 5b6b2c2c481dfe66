package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInjectFailed is returned when typed text does not land in the chat
// input, usually because focus could not be captured.
var ErrInjectFailed = errors.New("editor: text injection failed")

const focusInputScript = `
(function() {
	const inputs = document.querySelectorAll('.aislash-editor-input[contenteditable="true"]');
	if (inputs.length === 0) return false;
	const input = inputs[inputs.length - 1];
	input.focus();
	const sel = window.getSelection();
	const range = document.createRange();
	range.selectNodeContents(input);
	range.collapse(false);
	sel.removeAllRanges();
	sel.addRange(range);
	return document.activeElement === input || input.contains(document.activeElement);
})();`

const readInputScript = `
(function() {
	const inputs = document.querySelectorAll('.aislash-editor-input[contenteditable="true"]');
	if (inputs.length === 0) return '';
	return inputs[inputs.length - 1].textContent;
})();`

const clickSendScript = `
(function() {
	const btns = document.querySelectorAll('.composer-button-area .anysphere-icon-button');
	for (const btn of btns) {
		const arrow = btn.querySelector('.codicon-arrow-up-two');
		if (arrow) { btn.click(); return true; }
	}
	return false;
})();`

// SendMessage focuses the chat input, inserts text through the input
// event pipeline, verifies it landed, and clicks send. Verification
// matters: insertText against an unfocused document silently drops the
// characters.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	focused, err := c.conn.EvalBool(ctx, focusInputScript)
	if err != nil {
		return err
	}
	if !focused {
		return fmt.Errorf("%w: chat input not focusable", ErrInjectFailed)
	}

	if err := c.conn.InsertText(ctx, text); err != nil {
		return err
	}

	got, err := c.conn.EvalString(ctx, readInputScript)
	if err != nil {
		return err
	}
	if !strings.Contains(got, firstLine(text)) {
		return fmt.Errorf("%w: inserted text not present in input", ErrInjectFailed)
	}

	return c.ClickSend(ctx)
}

// ClickSend clicks the submit arrow on the composer.
func (c *Client) ClickSend(ctx context.Context) error {
	ok, err := c.conn.EvalBool(ctx, clickSendScript)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: send button not found", ErrInjectFailed)
	}
	return nil
}

// PasteImage delivers a base64-encoded image to the chat input as a
// synthetic clipboard paste. The composer attaches pasted images as
// context pills, same as a user pressing ctrl-v.
func (c *Client) PasteImage(ctx context.Context, b64 string, mime string) error {
	focused, err := c.conn.EvalBool(ctx, focusInputScript)
	if err != nil {
		return err
	}
	if !focused {
		return fmt.Errorf("%w: chat input not focusable", ErrInjectFailed)
	}

	script := fmt.Sprintf(`
(function() {
	const b64 = %q;
	const mime = %q;
	const bin = atob(b64);
	const bytes = new Uint8Array(bin.length);
	for (let i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
	const blob = new Blob([bytes], { type: mime });
	const file = new File([blob], 'photo.' + mime.split('/')[1], { type: mime });
	const dt = new DataTransfer();
	dt.items.add(file);
	const input = document.querySelectorAll('.aislash-editor-input[contenteditable="true"]');
	const target = input[input.length - 1];
	const ev = new ClipboardEvent('paste', { clipboardData: dt, bubbles: true, cancelable: true });
	target.dispatchEvent(ev);
	return true;
})();`, b64, mime)

	ok, err := c.conn.EvalBool(ctx, script)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: paste event not dispatched", ErrInjectFailed)
	}
	// Pill attachment is async in the renderer.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// SwitchToConversation activates the tab or editor-group chat previously
// tagged by ScanConversations. Editor-group tabs need mousedown, the VS
// Code tab bar ignores plain click.
func (c *Client) SwitchToConversation(ctx context.Context, pcID string) error {
	script := fmt.Sprintf(`
(function() {
	const el = document.querySelector('[data-pc-id=%q]');
	if (!el) return false;
	if (el.getAttribute('data-pc-id').startsWith('eg-')) {
		const opts = { bubbles: true, cancelable: true, view: window, button: 0 };
		el.dispatchEvent(new MouseEvent('mousedown', opts));
		el.dispatchEvent(new MouseEvent('mouseup', opts));
		el.dispatchEvent(new MouseEvent('click', opts));
	} else {
		el.click();
	}
	return true;
})();`, pcID)
	ok, err := c.conn.EvalBool(ctx, script)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation tab %s not found", pcID)
	}
	return nil
}

// ClickSelector clicks the first element matching the selector, used for
// accept/reject buttons whose selectors come from turn scraping.
func (c *Client) ClickSelector(ctx context.Context, selector string) error {
	script := fmt.Sprintf(`
(function() {
	const el = document.querySelector(%q);
	if (!el) return false;
	el.click();
	return true;
})();`, selector)
	ok, err := c.conn.EvalBool(ctx, script)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("selector %s not found", selector)
	}
	return nil
}

// Rect is an element's bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementRect returns the bounding box of the first element matching the
// selector, scrolling it into view first.
func (c *Client) ElementRect(ctx context.Context, selector string) (*Rect, error) {
	script := fmt.Sprintf(`
(function() {
	const el = document.querySelector(%q);
	if (!el) return '';
	el.scrollIntoView({ block: 'center' });
	const r = el.getBoundingClientRect();
	return JSON.stringify({ x: r.x, y: r.y, width: r.width, height: r.height });
})();`, selector)
	raw, err := c.conn.EvalString(ctx, script)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("selector %s not found", selector)
	}
	var r Rect
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode rect: %w", err)
	}
	return &r, nil
}

// ViewportSize returns the page's inner dimensions, needed to scale CSS
// coordinates against screenshot pixels.
func (c *Client) ViewportSize(ctx context.Context) (w, h float64, err error) {
	raw, err := c.conn.EvalString(ctx, `JSON.stringify({w: window.innerWidth, h: window.innerHeight})`)
	if err != nil {
		return 0, 0, err
	}
	var v struct {
		W float64 `json:"w"`
		H float64 `json:"h"`
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return 0, 0, fmt.Errorf("decode viewport: %w", err)
	}
	return v.W, v.H, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
