package cdp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestTargetWorkspace(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Cursor", ""},
		{"file.py - WorkspaceName - Cursor", "WorkspaceName"},
		{"file.md - Name (Workspace) - Cursor", "Name (Workspace)"},
		{"Interactive - file.py - WorkspaceName - Cursor", "WorkspaceName"},
		{"Settings", ""},
		{"a - b", ""},
	}
	for _, tt := range tests {
		got := Target{Title: tt.title}.Workspace()
		if got != tt.want {
			t.Errorf("Workspace(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestListTargetsFiltersPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]Target{
			{ID: "1", Type: "page", Title: "x - Ws - Cursor", URL: "vscode-file://vscode-app/x.html", WebSocketDebuggerURL: "ws://x"},
			{ID: "2", Type: "iframe", URL: "vscode-file://vscode-app/y.html"},
			{ID: "3", Type: "page", URL: "devtools://devtools/inspector.html"},
		})
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}

	targets, err := ListTargets(context.Background(), "127.0.0.1", port)
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("len(targets) = %d, want 1", len(targets))
	}
	if targets[0].ID != "1" {
		t.Errorf("ID = %q, want 1", targets[0].ID)
	}
	if targets[0].Workspace() != "Ws" {
		t.Errorf("Workspace = %q, want Ws", targets[0].Workspace())
	}
}

// fakeEditor accepts one websocket and answers Runtime.evaluate calls with
// the configured value, pushing one event after the first call.
func fakeEditor(t *testing.T, value string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		sentEvent := false
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var req struct {
				ID     int64  `json:"id"`
				Method string `json:"method"`
			}
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			var resp string
			switch req.Method {
			case "Runtime.evaluate":
				resp = `{"id":` + jsonInt(req.ID) + `,"result":{"result":{"type":"string","value":` + value + `}}}`
			default:
				resp = `{"id":` + jsonInt(req.ID) + `,"result":{}}`
			}
			if err := ws.Write(ctx, websocket.MessageText, []byte(resp)); err != nil {
				return
			}
			if !sentEvent {
				sentEvent = true
				ws.Write(ctx, websocket.MessageText,
					[]byte(`{"method":"Page.frameNavigated","params":{"frame":{}}}`))
			}
		}
	}))
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnEvaluate(t *testing.T) {
	srv := fakeEditor(t, `"hello"`)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	got, err := conn.EvalString(ctx, "document.title")
	if err != nil {
		t.Fatalf("EvalString: %v", err)
	}
	if got != "hello" {
		t.Errorf("EvalString = %q, want hello", got)
	}

	select {
	case ev := <-conn.Events():
		if ev.Method != "Page.frameNavigated" {
			t.Errorf("event method = %q", ev.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no push event received")
	}
}

func TestConnDisconnectIsTerminal(t *testing.T) {
	// Server.Close does not reach hijacked websockets, so the handler
	// closes its accepted socket itself when signaled.
	drop := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		<-drop
		ws.CloseNow()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, wsURL(srv))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	// Drop the peer; the event channel must close rather than hang.
	close(drop)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-conn.Events():
			if !ok {
				if _, err := conn.EvalString(ctx, "1"); err == nil {
					t.Error("EvalString after close = nil error, want error")
				}
				return
			}
		case <-deadline:
			t.Fatal("event channel did not close after disconnect")
		}
	}
}

func TestDialRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/devtools")
	if err == nil {
		t.Fatal("Dial to closed port succeeded")
	}
}
