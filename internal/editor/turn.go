package editor

import (
	"context"
	"encoding/json"
	"fmt"
)

// turnScript walks the last human/AI pair container and extracts every
// content element in document order. List numbering is rebuilt from
// <ol>/<li> attributes because textContent loses CSS-generated counters,
// and collapsed thinking blocks are expanded so their content can be read
// on the next poll.
const turnScript = `
(function() {
	function getSectionText(section) {
		let result = '';
		for (const node of section.childNodes) {
			if (node.tagName === 'OL') {
				node.querySelectorAll(':scope > li').forEach(li => {
					const val = li.getAttribute('value') || '';
					result += '\n' + val + '. ' + li.textContent.trim();
				});
			} else if (node.tagName === 'UL') {
				node.querySelectorAll(':scope > li').forEach(li => {
					result += '\n- ' + li.textContent.trim();
				});
			} else {
				result += node.textContent;
			}
		}
		return result.trim();
	}

	const containers = document.querySelectorAll('.composer-human-ai-pair-container');
	if (containers.length === 0) return JSON.stringify({ turn_id: '', user_full: '', sections: [], images: [] });

	const last = containers[containers.length - 1];

	const humanMsg = last.querySelector('[data-message-role="human"]');
	const turnId = humanMsg ? ('turn:' + (humanMsg.getAttribute('data-message-id') || '')) : '';
	let userFull = '';
	if (humanMsg) {
		const lexical = humanMsg.querySelector('.aislash-editor-input-readonly');
		userFull = lexical ? lexical.textContent.trim() : humanMsg.textContent.trim();
	}

	const images = [];
	last.querySelectorAll('.context-pill-image img').forEach(img => {
		if (img.src) images.push(img.src);
	});

	const sections = [];
	const allBubbles = last.querySelectorAll('[data-message-role="ai"], [data-message-kind="tool"]');
	allBubbles.forEach(msg => {
		const msgId = msg.getAttribute('data-message-id') || '';
		const bubbleSuffix = msgId.split('-').pop();
		const kind = msg.getAttribute('data-message-kind');
		let subIdx = 0;

		if (kind === 'tool') {
			const toolStatus = msg.getAttribute('data-tool-status');
			const toolCallId = msg.getAttribute('data-tool-call-id') || '';
			const acceptBtn = msg.querySelector('.composer-run-button');
			const rejectBtn = msg.querySelector('.composer-skip-button');

			if (toolStatus === 'loading' && acceptBtn) {
				const acceptLabel = acceptBtn ? acceptBtn.innerText.trim().replace(/\s+/g, ' ') : 'Accept';
				const rejectLabel = rejectBtn ? rejectBtn.innerText.trim().replace(/\s+/g, ' ') : 'Skip';
				const desc = msg.querySelector('.composer-tool-former-message');
				let cleanText = 'Action pending';
				if (desc) {
					const parts = [];
					const topHeader = desc.querySelector('.composer-tool-call-top-header');
					const header = desc.querySelector('.composer-tool-call-header');
					const body = desc.querySelector('.composer-tool-call-body');
					if (topHeader) parts.push(topHeader.innerText.trim().replace(/\s+/g, ' '));
					if (header) parts.push(header.innerText.trim().replace(/\s+/g, ' '));
					if (body && body.innerText.trim()) parts.push(body.innerText.trim());
					cleanText = parts.filter(Boolean).join('\n') || desc.innerText.trim();
				}
				const bubbleSelector = '#bubble-' + bubbleSuffix;
				sections.push({
					text: cleanText,
					type: 'confirmation',
					id: toolCallId || ('gen:' + msgId + ':' + subIdx),
					selector: bubbleSelector + ' .composer-tool-former-message > div',
					accept_selector: bubbleSelector + ' .composer-run-button',
					reject_selector: bubbleSelector + ' .composer-skip-button',
					accept_label: acceptLabel,
					reject_label: rejectLabel
				});
				return;
			}

			const codeBlock = msg.querySelector('.composer-code-block-container');
			if (codeBlock) {
				const filename = msg.querySelector('.composer-code-block-filename');
				const status = msg.querySelector('.composer-code-block-status');
				const fname = filename ? filename.textContent.trim() : 'file';
				const stat = status ? status.textContent.trim() : '';
				sections.push({
					text: fname + (stat ? ' ' + stat : ''),
					type: 'file_edit',
					id: toolCallId || ('gen:' + msgId + ':' + subIdx),
					selector: '#bubble-' + bubbleSuffix + ' .composer-code-block-container'
				});
			}
			return;
		}

		if (kind === 'thinking') {
			let root = msg.querySelector('.anysphere-markdown-container-root');
			if (!root) {
				const header = msg.querySelector('.collapsible-thought > div:first-child');
				if (header) header.click();
			}
			let thinkText = '';
			if (root) {
				const parts = [];
				for (const child of root.children) {
					if (child.classList.contains('markdown-section')) {
						const t = getSectionText(child);
						if (t) parts.push(t);
					}
				}
				thinkText = parts.join('\n');
			}
			sections.push({
				text: thinkText,
				type: 'thinking',
				id: msgId || ('gen:thinking:' + subIdx),
				selector: null
			});
			return;
		}

		const root = msg.querySelector('.anysphere-markdown-container-root');
		if (!root) return;
		let tableIndex = 0;
		let codeBlockIndex = 0;
		for (const child of root.children) {
			if (child.classList.contains('markdown-section')) {
				const codeBlock = child.querySelector('.markdown-block-code');
				if (codeBlock) {
					const selector = '#bubble-' + bubbleSuffix +
						' .markdown-block-code' +
						(codeBlockIndex > 0 ? ':nth-of-type(' + (codeBlockIndex + 1) + ')' : '');
					sections.push({
						text: child.innerText.trim(),
						type: 'code_block',
						id: child.id || ('gen:' + msgId + ':' + subIdx),
						selector: selector
					});
					subIdx++;
					codeBlockIndex++;
				} else {
					const text = getSectionText(child);
					if (text.length > 0) {
						sections.push({
							text: text,
							type: 'text',
							id: child.id || ('gen:' + msgId + ':' + subIdx),
							selector: null
						});
						subIdx++;
					}
				}
			} else if (child.classList.contains('markdown-table-container')) {
				const selector = '#bubble-' + bubbleSuffix +
					' .markdown-table-container' +
					(tableIndex > 0 ? ':nth-of-type(' + (tableIndex + 1) + ')' : '');
				sections.push({
					text: child.innerText.trim(),
					type: 'table',
					id: 'gen:' + msgId + ':' + subIdx,
					selector: selector
				});
				subIdx++;
				tableIndex++;
			}
		}
	});

	const convTab = document.querySelector('[class*="agent-tabs"] li[class*="checked"] a[aria-id="chat-horizontal-tab"]');
	const convName = convTab ? convTab.getAttribute('aria-label') : '';

	return JSON.stringify({ turn_id: turnId, user_full: userFull, sections: sections, images: images, conv: convName });
})();`

// TurnInfo fetches the last turn's user message and all response sections
// in document order.
func (c *Client) TurnInfo(ctx context.Context) (*Turn, error) {
	raw, err := c.conn.EvalString(ctx, turnScript)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return &Turn{}, nil
	}
	var turn Turn
	if err := json.Unmarshal([]byte(raw), &turn); err != nil {
		return nil, fmt.Errorf("decode turn info: %w", err)
	}
	return &turn, nil
}
