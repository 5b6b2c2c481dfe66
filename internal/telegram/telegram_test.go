package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSplitMessage(t *testing.T) {
	t.Run("short passes through", func(t *testing.T) {
		chunks := splitMessage("hello", 4000)
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Errorf("chunks = %v", chunks)
		}
	})

	t.Run("splits at line break", func(t *testing.T) {
		text := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3000)
		chunks := splitMessage(text, 4000)
		if len(chunks) != 2 {
			t.Fatalf("len(chunks) = %d, want 2", len(chunks))
		}
		if chunks[0] != strings.Repeat("a", 3000) {
			t.Errorf("chunk 0 not split at the line break")
		}
		if chunks[1] != strings.Repeat("b", 3000) {
			t.Errorf("chunk 1 = %q...", chunks[1][:20])
		}
	})

	t.Run("hard split without line breaks", func(t *testing.T) {
		text := strings.Repeat("x", 9000)
		chunks := splitMessage(text, 4000)
		if len(chunks) != 3 {
			t.Fatalf("len(chunks) = %d, want 3", len(chunks))
		}
		total := 0
		for _, c := range chunks {
			if len([]rune(c)) > 4000 {
				t.Errorf("chunk exceeds limit: %d", len(c))
			}
			total += len(c)
		}
		if total != 9000 {
			t.Errorf("total = %d, want 9000 (no content lost)", total)
		}
	})

	t.Run("multibyte content is not corrupted", func(t *testing.T) {
		text := strings.Repeat("日本語テキスト\n", 1000)
		for _, c := range splitMessage(text, 4000) {
			if !strings.HasPrefix(c, "日") {
				t.Errorf("chunk starts mid-rune or mid-line: %q", c[:12])
			}
		}
	})
}

func TestEscapeMarkdownV2(t *testing.T) {
	got := EscapeMarkdownV2("a_b*c[d]e(f)g.h!i")
	want := `a\_b\*c\[d\]e\(f\)g\.h\!i`
	if got != want {
		t.Errorf("EscapeMarkdownV2 = %q, want %q", got, want)
	}
	if EscapeMarkdownV2("plain text") != "plain text" {
		t.Error("plain text was mangled")
	}
}

func TestSendMessageChunksLongText(t *testing.T) {
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&params)
		sent = append(sent, params.Text)
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	text := strings.Repeat("line of output\n", 600) // ~9000 chars
	if err := c.SendMessage(context.Background(), 1, text); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(sent) < 2 {
		t.Fatalf("sent %d messages, want chunked send", len(sent))
	}
	joined := strings.Join(sent, "\n")
	if !strings.HasPrefix(joined, "line of output") {
		t.Error("content corrupted in chunking")
	}
}

func TestGetUpdatesDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getUpdates") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"from":{"id":42,"first_name":"A"},"chat":{"id":7},"text":"hi"}},
			{"update_id":11,"callback_query":{"id":"cb1","from":{"id":42},"data":"accept:xyz"}}
		]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	updates, err := c.GetUpdates(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("len(updates) = %d, want 2", len(updates))
	}
	if updates[0].Message == nil || updates[0].Message.Text != "hi" {
		t.Errorf("message decode: %+v", updates[0])
	}
	if updates[0].Message.From.ID != 42 {
		t.Errorf("sender id = %d, want 42", updates[0].Message.From.ID)
	}
	if updates[1].CallbackQuery == nil || updates[1].CallbackQuery.Data != "accept:xyz" {
		t.Errorf("callback decode: %+v", updates[1])
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "bad")
	if _, err := c.GetMe(context.Background()); err == nil || !strings.Contains(err.Error(), "Unauthorized") {
		t.Errorf("err = %v, want Unauthorized", err)
	}
}
