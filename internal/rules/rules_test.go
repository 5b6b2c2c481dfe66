package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testDoc = `
allow:
  - "git status*"
  - group: read-only
    patterns:
      - "ls*"
      - "cat *"
deny:
  - "rm "
  - group: destructive
    patterns:
      - "--force"
`

func mustParse(t *testing.T, doc string) *Set {
	t.Helper()
	s, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func TestEvaluateDenyWins(t *testing.T) {
	s := mustParse(t, testDoc)

	tests := []struct {
		command string
		want    Verdict
	}{
		{"ls && rm -rf /", Deny},             // deny keyword in a chained part
		{"git status --porcelain", Allow},    // allow glob match
		{"ls -la", Allow},                    // allow via ls*
		{"vim main.go", RequireConfirmation}, // matches neither side
		{"git push --force", Deny},           // deny overrides the git allow
		{"git status", Allow},                // trailing-* pattern matches bare command
		{"", RequireConfirmation},
		{"ls; cat a.txt", Allow}, // all chained parts allowed
		{"ls; vim a.txt", RequireConfirmation},
		{"Run command: ls $ ls", Allow}, // rendered prompt echo stripped
	}

	for _, tt := range tests {
		if got := s.Evaluate(tt.command); got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestEvaluateDenyRegardlessOfAllowMatch(t *testing.T) {
	// Every allow pattern also matches; deny must still win.
	s := mustParse(t, "allow:\n  - \"*\"\ndeny:\n  - \"shutdown\"\n")
	if got := s.Evaluate("shutdown -h now"); got != Deny {
		t.Errorf("Evaluate = %v, want Deny", got)
	}
	if got := s.Evaluate("echo hi"); got != Allow {
		t.Errorf("Evaluate = %v, want Allow", got)
	}
}

func TestEvaluateEmptySet(t *testing.T) {
	var s Set
	if got := s.Evaluate("ls"); got != RequireConfirmation {
		t.Errorf("empty set Evaluate = %v, want RequireConfirmation", got)
	}
}

func TestEvaluateDenyWithoutAllow(t *testing.T) {
	s := mustParse(t, "deny:\n  - \"rm \"\n")
	if got := s.Evaluate("rm -rf /"); got != Deny {
		t.Errorf("Evaluate = %v, want Deny even with no allow patterns", got)
	}
}

func TestEvaluateCaseInsensitive(t *testing.T) {
	s := mustParse(t, testDoc)
	if got := s.Evaluate("Git Status"); got != Allow {
		t.Errorf("Evaluate = %v, want Allow (case folded)", got)
	}
	if got := s.Evaluate("RM -rf /"); got != Deny {
		t.Errorf("Evaluate = %v, want Deny (case folded)", got)
	}
}

func TestEngineCorruptDocumentKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(testDoc), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(path)
	if got := e.Evaluate("git status"); got != Allow {
		t.Fatalf("Evaluate = %v, want Allow", got)
	}

	// Corrupt the document; the previous set must stay in service.
	if err := os.WriteFile(path, []byte("allow: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	e.reload()
	if got := e.Evaluate("git status"); got != Allow {
		t.Errorf("Evaluate after corrupt reload = %v, want Allow", got)
	}
}

func TestEngineMissingDocument(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "absent.yaml"))
	if got := e.Evaluate("anything at all"); got != RequireConfirmation {
		t.Errorf("Evaluate = %v, want RequireConfirmation", got)
	}
}

func TestEngineWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("allow:\n  - \"ls*\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Watch(ctx)

	// Give the watcher time to install before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("allow:\n  - \"git status*\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.Evaluate("git status") == Allow {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("rule set was not reloaded after file change")
}

func TestPickAccept(t *testing.T) {
	tests := []struct {
		labels []string
		want   int
		ok     bool
	}{
		{[]string{"Accept", "Skip"}, 0, true},
		{[]string{"Skip", "Run command"}, 1, true},
		{[]string{"Allow", "Reject"}, 0, false}, // "Allow" never auto-clicked
		{[]string{"Fetch", "Run"}, 1, true},     // run outranks fetch
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := PickAccept(tt.labels)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("PickAccept(%v) = (%d, %v), want (%d, %v)", tt.labels, got, ok, tt.want, tt.ok)
		}
	}
}
