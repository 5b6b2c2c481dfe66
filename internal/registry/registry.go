// Package registry tracks running editor windows and the conversations
// inside them, and arbitrates which conversation is focused.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pocketbridge/internal/cdp"
	"pocketbridge/internal/config"
	"pocketbridge/internal/editor"
	"pocketbridge/internal/logger"
	"pocketbridge/internal/state"
)

type EventKind string

const (
	EventInstanceOpened     EventKind = "instance_opened"
	EventInstanceClosed     EventKind = "instance_closed"
	EventConversationOpened EventKind = "conversation_opened"
	EventConversationClosed EventKind = "conversation_closed"
)

// Event describes a change in the set of editor windows or conversations.
type Event struct {
	Kind           EventKind
	InstanceID     string
	Workspace      string
	ConversationID string
	Title          string
}

// Instance is one connected editor window.
type Instance struct {
	TargetID string
	Editor   *editor.Client

	mu        sync.Mutex
	workspace string
	title     string
	convs     map[string]editor.ConversationInfo
}

// Workspace returns the window's workspace name. The reconciler may
// update it when a folder is opened in a previously empty window.
func (in *Instance) Workspace() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.workspace
}

func (in *Instance) setWorkspace(ws string) {
	in.mu.Lock()
	in.workspace = ws
	in.mu.Unlock()
}

// Conversations returns a snapshot of the instance's conversations,
// sorted by title for stable picker ordering.
func (in *Instance) Conversations() []editor.ConversationInfo {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]editor.ConversationInfo, 0, len(in.convs))
	for _, c := range in.convs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// Conversation looks up a conversation by id.
func (in *Instance) Conversation(id string) (editor.ConversationInfo, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	c, ok := in.convs[id]
	return c, ok
}

// Registry owns the instance set. Reconcile keeps it in sync with the
// editor's target list; the focus detector and the relay both read and
// update the shared focus through it.
type Registry struct {
	cfg   config.EditorConfig
	store *state.Store

	mu        sync.Mutex
	port      int
	instances map[string]*Instance

	focusMu sync.Mutex
	focus   Focus
	// echo is set when the relay changes focus; the editor-side
	// observation of that same switch must not count as a user signal.
	echo *Focus

	events chan Event
}

func New(cfg config.EditorConfig, store *state.Store) *Registry {
	return &Registry{
		cfg:       cfg,
		store:     store,
		instances: make(map[string]*Instance),
		events:    make(chan Event, 32),
	}
}

func (r *Registry) Events() <-chan Event {
	return r.events
}

// Instance returns the connected instance with the given target id.
func (r *Registry) Instance(id string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.instances[id]
	return in, ok
}

// ListAll returns instances ordered by workspace name.
func (r *Registry) ListAll() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, in := range r.instances {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		wi, wj := out[i].Workspace(), out[j].Workspace()
		if wi != wj {
			return wi < wj
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

// Reconcile diffs the editor's current targets against the instance set:
// connects new windows, drops closed or dead ones, and rescans each
// window's conversation tabs.
func (r *Registry) Reconcile(ctx context.Context) error {
	port, err := r.resolvePort(ctx)
	if err != nil {
		return err
	}
	targets, err := cdp.ListTargets(ctx, r.cfg.Host, port)
	if err != nil {
		// A dead endpoint means the editor restarted; force
		// rediscovery next pass.
		r.mu.Lock()
		r.port = 0
		r.mu.Unlock()
		return err
	}

	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		seen[t.ID] = true
		r.mu.Lock()
		in, ok := r.instances[t.ID]
		r.mu.Unlock()
		if ok {
			select {
			case <-in.Editor.Conn().Done():
				r.drop(in)
				continue
			default:
			}
			r.refresh(ctx, in, t)
			continue
		}
		if err := r.connect(ctx, t); err != nil {
			logger.Warn("instance connect failed", "target", t.ID, "error", err)
		}
	}

	r.mu.Lock()
	var gone []*Instance
	for id, in := range r.instances {
		if !seen[id] {
			gone = append(gone, in)
		}
	}
	r.mu.Unlock()
	for _, in := range gone {
		r.drop(in)
	}
	return nil
}

// RunReconciler reconciles on the scan interval until the context ends.
func (r *Registry) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				logger.Warn("reconcile failed", "error", err)
			}
		}
	}
}

func (r *Registry) resolvePort(ctx context.Context) (int, error) {
	r.mu.Lock()
	port := r.port
	r.mu.Unlock()
	if port != 0 {
		return port, nil
	}
	if r.cfg.Port != 0 {
		port = r.cfg.Port
	} else {
		p, err := cdp.DiscoverPort(ctx, r.cfg.Host, r.cfg.Ports)
		if err != nil {
			return 0, fmt.Errorf("control port discovery: %w", err)
		}
		port = p
	}
	r.mu.Lock()
	r.port = port
	r.mu.Unlock()
	return port, nil
}

func (r *Registry) connect(ctx context.Context, t cdp.Target) error {
	conn, err := cdp.Dial(ctx, t.WebSocketDebuggerURL)
	if err != nil {
		return err
	}
	ed := editor.NewClient(conn)
	if err := ed.InstallTabObserver(ctx); err != nil {
		logger.Debug("tab observer install failed", "target", t.ID, "error", err)
	}
	convs, err := ed.ScanConversations(ctx)
	if err != nil {
		conn.Close()
		return err
	}

	ws := workspaceOf(t)
	in := &Instance{
		TargetID:  t.ID,
		Editor:    ed,
		workspace: ws,
		title:     t.Title,
		convs:     make(map[string]editor.ConversationInfo, len(convs)),
	}
	for _, c := range convs {
		in.convs[c.ID] = c
	}

	r.mu.Lock()
	r.instances[t.ID] = in
	r.mu.Unlock()

	logger.Info("editor window connected", "workspace", ws, "conversations", len(convs))
	r.emit(Event{Kind: EventInstanceOpened, InstanceID: in.TargetID, Workspace: ws})
	return nil
}

// refresh applies title/workspace changes and rescans conversations,
// emitting opened/closed events for the diff. Renames update the stored
// title in place without an event.
func (r *Registry) refresh(ctx context.Context, in *Instance, t cdp.Target) {
	ws := workspaceOf(t)
	if prev := in.Workspace(); ws != prev {
		logger.Info("workspace changed", "from", prev, "to", ws)
		in.setWorkspace(ws)
	}

	convs, err := in.Editor.ScanConversations(ctx)
	if err != nil {
		logger.Debug("conversation scan failed", "workspace", ws, "error", err)
		return
	}
	next := make(map[string]editor.ConversationInfo, len(convs))
	for _, c := range convs {
		next[c.ID] = c
	}

	in.mu.Lock()
	opened, closed := diffConversations(in.convs, next)
	in.title = t.Title
	in.convs = next
	in.mu.Unlock()

	for _, c := range opened {
		r.emit(Event{Kind: EventConversationOpened, InstanceID: in.TargetID, Workspace: ws, ConversationID: c.ID, Title: c.Title})
	}
	for _, c := range closed {
		r.emit(Event{Kind: EventConversationClosed, InstanceID: in.TargetID, Workspace: ws, ConversationID: c.ID, Title: c.Title})
		r.clearFocusIf(in.TargetID, c.ID)
	}
}

func (r *Registry) drop(in *Instance) {
	r.mu.Lock()
	delete(r.instances, in.TargetID)
	r.mu.Unlock()
	in.Editor.Conn().Close()
	ws := in.Workspace()
	logger.Info("editor window closed", "workspace", ws)
	r.emit(Event{Kind: EventInstanceClosed, InstanceID: in.TargetID, Workspace: ws})
	r.clearFocusIf(in.TargetID, "")
}

func (r *Registry) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		logger.Warn("registry event dropped", "kind", ev.Kind)
	}
}

// diffConversations returns conversations present only in next (opened)
// and only in prev (closed). Title changes are deliberately neither: the
// editor rewrites auto-generated titles as a chat progresses, so a rename
// keeps its id and updates in place without an event.
func diffConversations(prev, next map[string]editor.ConversationInfo) (opened, closed []editor.ConversationInfo) {
	for id, c := range next {
		if _, ok := prev[id]; !ok {
			opened = append(opened, c)
		}
	}
	for id, c := range prev {
		if _, ok := next[id]; !ok {
			closed = append(closed, c)
		}
	}
	sort.Slice(opened, func(i, j int) bool { return opened[i].ID < opened[j].ID })
	sort.Slice(closed, func(i, j int) bool { return closed[i].ID < closed[j].ID })
	return opened, closed
}

// workspaceOf names instances without a folder open so the chat picker
// has something to show.
func workspaceOf(t cdp.Target) string {
	if ws := t.Workspace(); ws != "" {
		return ws
	}
	return "(no workspace)"
}
