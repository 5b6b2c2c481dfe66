package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Target describes one debuggable page exposed on the control port.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Workspace extracts the workspace name from an editor window title.
//
// Title patterns:
//
//	"Cursor"                                          → ""
//	"file.py - WorkspaceName - Cursor"                → "WorkspaceName"
//	"Interactive - file.py - WorkspaceName - Cursor"  → "WorkspaceName"
//
// The workspace is always the second-to-last " - " segment.
func (t Target) Workspace() string {
	parts := strings.Split(t.Title, " - ")
	if len(parts) >= 3 && strings.TrimSpace(parts[len(parts)-1]) == "Cursor" {
		return parts[len(parts)-2]
	}
	return ""
}

var probeClient = &http.Client{Timeout: 2 * time.Second}

// DiscoverPort probes candidate control ports and returns the first one
// that answers. Stale launch flags can leave dead port entries behind, so
// every candidate is verified before use.
func DiscoverPort(ctx context.Context, host string, candidates []int) (int, error) {
	for _, port := range candidates {
		url := fmt.Sprintf("http://%s:%d/json/version", host, port)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := probeClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: no control port responding on %v", ErrConnectionFailed, candidates)
}

// ListTargets fetches all editor windows on a control port. Only rendered
// editor pages are returned; devtools and service targets are filtered out.
func ListTargets(ctx context.Context, host string, port int) ([]Target, error) {
	url := fmt.Sprintf("http://%s:%d/json", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrConnectionFailed, resp.StatusCode, url)
	}

	var all []Target
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, fmt.Errorf("decode target list: %w", err)
	}

	var targets []Target
	for _, t := range all {
		if t.Type != "page" {
			continue
		}
		if !strings.HasPrefix(t.URL, "vscode-file://") {
			continue
		}
		targets = append(targets, t)
	}
	return targets, nil
}
