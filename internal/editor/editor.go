// Package editor holds all rendered-document knowledge for one editor
// instance: conversation enumeration, focus signals, transcript scraping,
// and input injection. Everything goes through the instance's control
// connection; no other package embeds document structure.
package editor

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"pocketbridge/internal/cdp"
)

// SectionType classifies one rendered content section.
type SectionType string

const (
	SectionText         SectionType = "text"
	SectionThinking     SectionType = "thinking"
	SectionCodeBlock    SectionType = "code_block"
	SectionTable        SectionType = "table"
	SectionFileEdit     SectionType = "file_edit"
	SectionConfirmation SectionType = "confirmation"
)

// Rich reports whether the section requires external rendering and must
// never be delivered before its full extent is known.
func (t SectionType) Rich() bool {
	switch t {
	case SectionCodeBlock, SectionTable, SectionFileEdit:
		return true
	}
	return false
}

// Section is one content element of the current turn, in document order.
type Section struct {
	ID       string      `json:"id"`
	Type     SectionType `json:"type"`
	Text     string      `json:"text"`
	Selector string      `json:"selector"`

	// Confirmation prompts only.
	AcceptSelector string `json:"accept_selector"`
	RejectSelector string `json:"reject_selector"`
	AcceptLabel    string `json:"accept_label"`
	RejectLabel    string `json:"reject_label"`
}

// Turn is the last user message plus all rendered response sections.
type Turn struct {
	TurnID       string    `json:"turn_id"`
	UserText     string    `json:"user_full"`
	Sections     []Section `json:"sections"`
	Images       []string  `json:"images"`
	Conversation string    `json:"conv"`
}

// ConversationInfo describes one conversation tab.
type ConversationInfo struct {
	ID     string `json:"pc_id"`
	Title  string `json:"name"`
	Active bool   `json:"active"`
}

// ActiveChat identifies the conversation the user is interacting with.
type ActiveChat struct {
	ID    string `json:"pc_id"`
	Title string `json:"name"`
}

// Client wraps one instance's control connection with document operations.
type Client struct {
	conn *cdp.Conn
}

func NewClient(conn *cdp.Conn) *Client {
	return &Client{conn: conn}
}

// Conn exposes the underlying control connection for lifecycle checks.
func (c *Client) Conn() *cdp.Conn {
	return c.conn
}

// IsGenerating reports whether a response is currently being generated
// (the stop button is present).
func (c *Client) IsGenerating(ctx context.Context) (bool, error) {
	return c.conn.EvalBool(ctx,
		`(function() { return !!document.querySelector('[data-stop-button="true"]'); })();`)
}

// ContextFillPercent reads the conversation's context usage indicator.
// Returns 0 when the indicator is not rendered.
func (c *Client) ContextFillPercent(ctx context.Context) (int, error) {
	v, err := c.conn.Evaluate(ctx, `
		(function() {
			const el = document.querySelector('[class*="context-indicator"], [class*="context-usage"]');
			if (!el) return 0;
			const m = (el.getAttribute('aria-label') || el.textContent || '').match(/(\d+(?:\.\d+)?)\s*%/);
			return m ? Math.round(parseFloat(m[1])) : 0;
		})();`)
	if err != nil {
		return 0, err
	}
	var pct float64
	if len(v) == 0 || json.Unmarshal(v, &pct) != nil {
		return 0, nil
	}
	return int(pct), nil
}

// VSCodeURLToPath converts a vscode-file:// attachment URL to a local
// file path ("vscode-file://vscode-app/c%3A/Users/..." → "c:/Users/...").
func VSCodeURLToPath(raw string) string {
	if !strings.HasPrefix(raw, "vscode-file://") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := u.Path
	// Drive-letter paths arrive as "/c:/Users"; drop the leading slash.
	if len(path) > 2 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return path
}
