package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Evaluate runs a JavaScript expression in the rendered document and
// returns its by-value result.
func (c *Conn) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	raw, err := c.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return nil, err
	}

	var res struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode evaluate result: %w", err)
	}
	if res.ExceptionDetails != nil {
		return nil, fmt.Errorf("script exception: %s", res.ExceptionDetails.Text)
	}
	return res.Result.Value, nil
}

// EvalString evaluates an expression expected to produce a string.
// A null/undefined result comes back as "".
func (c *Conn) EvalString(ctx context.Context, expression string) (string, error) {
	v, err := c.Evaluate(ctx, expression)
	if err != nil {
		return "", err
	}
	if len(v) == 0 || string(v) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("expected string result, got %s", v)
	}
	return s, nil
}

// EvalBool evaluates an expression expected to produce a boolean.
func (c *Conn) EvalBool(ctx context.Context, expression string) (bool, error) {
	v, err := c.Evaluate(ctx, expression)
	if err != nil {
		return false, err
	}
	var b bool
	if len(v) == 0 || json.Unmarshal(v, &b) != nil {
		return false, nil
	}
	return b, nil
}

// InsertText types text into the currently focused element.
func (c *Conn) InsertText(ctx context.Context, text string) error {
	_, err := c.Call(ctx, "Input.insertText", map[string]any{"text": text})
	return err
}

// CaptureScreenshot captures the window as PNG bytes.
func (c *Conn) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	raw, err := c.Call(ctx, "Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return nil, err
	}
	var res struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode screenshot result: %w", err)
	}
	if res.Data == "" {
		return nil, fmt.Errorf("empty screenshot")
	}
	return base64.StdEncoding.DecodeString(res.Data)
}

// BringToFront raises the editor window to the foreground.
func (c *Conn) BringToFront(ctx context.Context) error {
	_, err := c.Call(ctx, "Page.bringToFront", nil)
	return err
}
