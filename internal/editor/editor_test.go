package editor

import (
	"encoding/json"
	"testing"
)

func TestVSCodeURLToPath(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"unix path", "vscode-file://vscode-app/home/alice/project", "/home/alice/project"},
		{"windows drive", "vscode-file://vscode-app/C:/Users/alice/project", "C:/Users/alice/project"},
		{"escaped spaces", "vscode-file://vscode-app/home/alice/my%20project", "/home/alice/my project"},
		{"not a url", "::bad::", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VSCodeURLToPath(tt.url); got != tt.want {
				t.Errorf("VSCodeURLToPath(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestSectionTypeRich(t *testing.T) {
	rich := []SectionType{SectionCodeBlock, SectionTable, SectionFileEdit}
	for _, st := range rich {
		if !st.Rich() {
			t.Errorf("%s.Rich() = false, want true", st)
		}
	}
	plain := []SectionType{SectionText, SectionThinking, SectionConfirmation}
	for _, st := range plain {
		if st.Rich() {
			t.Errorf("%s.Rich() = true, want false", st)
		}
	}
}

func TestTurnDecode(t *testing.T) {
	raw := `{
		"turn_id": "turn:abc123",
		"user_full": "fix the bug",
		"sections": [
			{"text": "Looking at the code.", "type": "text", "id": "s1", "selector": null},
			{"text": "ls -la", "type": "confirmation", "id": "tc1",
			 "selector": "#bubble-9 .composer-tool-former-message > div",
			 "accept_selector": "#bubble-9 .composer-run-button",
			 "reject_selector": "#bubble-9 .composer-skip-button",
			 "accept_label": "Run", "reject_label": "Skip"}
		],
		"images": ["data:image/png;base64,AAAA"],
		"conv": "Fix login bug"
	}`
	var turn Turn
	if err := json.Unmarshal([]byte(raw), &turn); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if turn.TurnID != "turn:abc123" {
		t.Errorf("TurnID = %q", turn.TurnID)
	}
	if len(turn.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(turn.Sections))
	}
	conf := turn.Sections[1]
	if conf.Type != SectionConfirmation {
		t.Errorf("section type = %q, want confirmation", conf.Type)
	}
	if conf.AcceptLabel != "Run" || conf.RejectLabel != "Skip" {
		t.Errorf("labels = %q/%q", conf.AcceptLabel, conf.RejectLabel)
	}
	if len(turn.Images) != 1 {
		t.Errorf("got %d images, want 1", len(turn.Images))
	}
	if turn.Conversation != "Fix login bug" {
		t.Errorf("Conversation = %q", turn.Conversation)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("hello\nworld"); got != "hello" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("single"); got != "single" {
		t.Errorf("firstLine = %q", got)
	}
}
