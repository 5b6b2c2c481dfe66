package editor

import (
	"context"
	"encoding/json"
	"fmt"
)

// ScanConversations enumerates all open conversation tabs, tagging
// untagged tabs with generated ids so they can be targeted later.
//
// Conversations live in two places: the agent-tabs bar (main chat panel)
// and editor-group tabs (chats opened as split-view panels).
func (c *Client) ScanConversations(ctx context.Context) ([]ConversationInfo, error) {
	raw, err := c.conn.EvalString(ctx, `
		(function() {
			const results = [];

			const agentTabs = document.querySelectorAll('[class*="agent-tabs"] li[class*="action-item"] a[aria-id="chat-horizontal-tab"]');
			agentTabs.forEach(a => {
				const li = a.closest('li');
				if (!li.getAttribute('data-pc-id')) {
					li.setAttribute('data-pc-id', 'pc-' + Math.random().toString(36).slice(2, 10));
				}
				results.push({
					pc_id: li.getAttribute('data-pc-id'),
					name: a.getAttribute('aria-label') || '',
					active: li.classList.contains('checked')
				});
			});

			const editorGroups = document.querySelectorAll('.editor-group-container.has-composer-editor');
			editorGroups.forEach(group => {
				const tab = group.querySelector('.tab .composer-tab-label');
				if (!tab) return;
				const tabEl = tab.closest('.tab');
				if (!tabEl) return;
				const resName = tabEl.getAttribute('data-resource-name') || '';
				const pcId = 'eg-' + resName.substring(0, 8);
				if (!tabEl.getAttribute('data-pc-id')) {
					tabEl.setAttribute('data-pc-id', pcId);
				}
				results.push({
					pc_id: tabEl.getAttribute('data-pc-id'),
					name: tab.textContent.trim(),
					active: tabEl.classList.contains('active')
				});
			});

			return JSON.stringify(results);
		})();`)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var convs []ConversationInfo
	if err := json.Unmarshal([]byte(raw), &convs); err != nil {
		return nil, fmt.Errorf("decode conversation scan: %w", err)
	}
	return convs, nil
}

// CheckChatFocus detects which chat input has OS focus in this instance.
// Only the foreground window can return a result (document.hasFocus).
func (c *Client) CheckChatFocus(ctx context.Context) (*ActiveChat, error) {
	raw, err := c.conn.EvalString(ctx, `
		(function() {
			if (!document.hasFocus()) return null;
			const el = document.activeElement;
			if (!el) return null;

			// Any focused element inside an editor-group chat (split view).
			const groups = document.querySelectorAll('.editor-group-container.has-composer-editor');
			for (const g of groups) {
				if (g.contains(el)) {
					const tab = g.querySelector('.tab.selected .composer-tab-label') || g.querySelector('.tab .composer-tab-label');
					const tabEl = tab ? tab.closest('.tab') : null;
					if (tab && tabEl) return JSON.stringify({
						name: tab.textContent.trim(),
						pc_id: tabEl.getAttribute('data-pc-id') || ''
					});
				}
			}

			// Lexical editor focused in the main agent-tabs panel.
			if (el.getAttribute('data-lexical-editor') === 'true' && el.contentEditable === 'true') {
				const checkedLi = document.querySelector('[class*="agent-tabs"] li.checked');
				if (checkedLi) {
					const a = checkedLi.querySelector('a[aria-id="chat-horizontal-tab"]');
					return JSON.stringify({
						name: a ? (a.getAttribute('aria-label') || a.textContent.trim()) : '',
						pc_id: checkedLi.getAttribute('data-pc-id') || ''
					});
				}
			}

			return null;
		})();`)
	if err != nil {
		return nil, err
	}
	return decodeActiveChat(raw)
}

// InstallTabObserver injects a MutationObserver that records chat tab
// activations from any UI surface (tab click, keyboard shortcut, command
// palette). Idempotent.
func (c *Client) InstallTabObserver(ctx context.Context) error {
	_, err := c.conn.EvalString(ctx, `
		(function() {
			if (window.__pb_tab_observer) return 'ALREADY_INSTALLED';
			window.__pb_active_tab = null;

			const observer = new MutationObserver(mutations => {
				for (const m of mutations) {
					if (m.attributeName !== 'class') continue;
					const el = m.target;

					if (el.tagName === 'LI' && el.classList.contains('checked')) {
						const a = el.querySelector('a[aria-id="chat-horizontal-tab"]');
						if (a) {
							window.__pb_active_tab = {
								name: a.getAttribute('aria-label') || a.textContent.trim(),
								pc_id: el.getAttribute('data-pc-id') || '',
								ts: Date.now()
							};
						}
					}

					if (el.classList.contains('tab') && el.classList.contains('selected')) {
						const label = el.querySelector('.composer-tab-label');
						if (label) {
							window.__pb_active_tab = {
								name: label.textContent.trim(),
								pc_id: el.getAttribute('data-pc-id') || '',
								ts: Date.now()
							};
						}
					}

					if (el.classList.contains('editor-group-container')
						&& el.classList.contains('has-composer-editor')
						&& !el.classList.contains('inactive')) {
						const tab = el.querySelector('.tab.selected .composer-tab-label');
						const tabEl = tab ? tab.closest('.tab') : null;
						if (tab && tabEl) {
							window.__pb_active_tab = {
								name: tab.textContent.trim(),
								pc_id: tabEl.getAttribute('data-pc-id') || '',
								ts: Date.now()
							};
						}
					}
				}
			});

			observer.observe(document.body, { attributes: true, attributeFilter: ['class'], subtree: true });
			window.__pb_tab_observer = true;
			return 'INSTALLED';
		})();`)
	return err
}

// PollTabObserver reads and clears the latest tab activation recorded by
// the injected observer.
func (c *Client) PollTabObserver(ctx context.Context) (*ActiveChat, error) {
	raw, err := c.conn.EvalString(ctx, `
		(function() {
			const data = window.__pb_active_tab;
			window.__pb_active_tab = null;
			return data ? JSON.stringify(data) : null;
		})();`)
	if err != nil {
		return nil, err
	}
	return decodeActiveChat(raw)
}

// ActiveEditorGroupChat polls for a non-inactive split-view chat. Catches
// activation paths that produce no class mutation (sidebar clicks).
func (c *Client) ActiveEditorGroupChat(ctx context.Context) (*ActiveChat, error) {
	raw, err := c.conn.EvalString(ctx, `
		(function() {
			const groups = document.querySelectorAll('.editor-group-container');
			for (const g of groups) {
				if (g.classList.contains('inactive')) continue;
				const composer = g.querySelector('[data-lexical-editor="true"]');
				if (!composer) continue;
				const label = g.querySelector('.tab.selected .composer-tab-label');
				const tabEl = label ? label.closest('.tab') : null;
				if (label && tabEl) {
					return JSON.stringify({
						name: label.textContent.trim(),
						pc_id: tabEl.getAttribute('data-pc-id') || ''
					});
				}
			}
			return null;
		})();`)
	if err != nil {
		return nil, err
	}
	return decodeActiveChat(raw)
}

func decodeActiveChat(raw string) (*ActiveChat, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var chat ActiveChat
	if err := json.Unmarshal([]byte(raw), &chat); err != nil {
		return nil, nil // malformed signal is treated as no signal
	}
	return &chat, nil
}
