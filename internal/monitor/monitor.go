// Package monitor watches the focused conversation and turns its
// rendered sections into ordered deliveries for the relay.
package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"pocketbridge/internal/editor"
	"pocketbridge/internal/logger"
	"pocketbridge/internal/registry"
	"pocketbridge/internal/state"
)

// Sink receives deliveries in strict document order. Implemented by the
// relay; errors are logged by the monitor and the unit is still marked
// delivered so a flaky network cannot wedge the stream.
type Sink interface {
	DeliverText(ctx context.Context, text string) error
	DeliverThinking(ctx context.Context, text string) error
	DeliverRich(ctx context.Context, focus registry.Focus, sec editor.Section) error
	DeliverConfirmation(ctx context.Context, focus registry.Focus, sec editor.Section) error
	DeliverUserTurn(ctx context.Context, text string, images []string) error
	NotifyContextFill(percent int)
	Typing(ctx context.Context) error
}

// TurnSource is the slice of the editor client the monitor reads.
type TurnSource interface {
	TurnInfo(ctx context.Context) (*editor.Turn, error)
	IsGenerating(ctx context.Context) (bool, error)
	ContextFillPercent(ctx context.Context) (int, error)
}

const typingKeepAlive = 4 * time.Second

type sectionTrack struct {
	text        string
	stableTicks int
	delivered   bool
}

// Monitor is the per-focus stream state machine. Observation never
// stops; pause only gates the sink calls.
type Monitor struct {
	reg    *registry.Registry
	store  *state.Store
	sink   Sink
	paused func() bool

	stableTicks int
	threshold   int

	// tracking for the currently watched conversation
	key             string
	focus           registry.Focus
	turnID          string
	order           []string
	tracks          map[string]*sectionTrack
	turnDone        bool
	contextFillSent bool
	lastTyping      time.Time

	injMu        sync.Mutex
	lastInjected string
}

func New(reg *registry.Registry, store *state.Store, sink Sink, paused func() bool, stableTicks, threshold int) *Monitor {
	return &Monitor{
		reg:         reg,
		store:       store,
		sink:        sink,
		paused:      paused,
		stableTicks: stableTicks,
		threshold:   threshold,
		tracks:      make(map[string]*sectionTrack),
	}
}

// NoteInjected records the last text the relay pushed into the editor so
// the next observed user turn is not forwarded back to the phone.
func (m *Monitor) NoteInjected(text string) {
	m.injMu.Lock()
	m.lastInjected = strings.TrimSpace(text)
	m.injMu.Unlock()
}

func (m *Monitor) injectedByRelay(userText string) bool {
	m.injMu.Lock()
	defer m.injMu.Unlock()
	if m.lastInjected == "" {
		return false
	}
	return strings.TrimSpace(userText) == m.lastInjected
}

// Run ticks on the poll interval until the context ends.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	focus := m.reg.CurrentFocus()
	if focus.IsZero() {
		if m.key != "" {
			m.flushCached(ctx)
			m.key = ""
		}
		return
	}
	inst, ok := m.reg.Instance(focus.InstanceID)
	if !ok {
		return
	}
	m.Observe(ctx, focus, inst.Editor)
}

// Observe runs one observation pass of the focused conversation against
// the given source.
func (m *Monitor) Observe(ctx context.Context, focus registry.Focus, src TurnSource) {
	key := conversationKey(focus)
	if key != m.key {
		m.switchTo(ctx, focus, key, src)
		return
	}

	turn, err := src.TurnInfo(ctx)
	if err != nil {
		logger.Debug("turn fetch failed", "conversation", focus.Title, "error", err)
		return
	}

	if turn.TurnID != m.turnID {
		m.startTurn(ctx, turn)
	}

	m.walk(ctx, focus, turn)

	generating, err := src.IsGenerating(ctx)
	if err != nil {
		return
	}
	if generating {
		m.keepTyping(ctx)
		return
	}
	if !m.turnDone && m.allDelivered() {
		m.turnDone = true
		m.checkContextFill(ctx, src)
	}
}

// switchTo flushes what remains of the previous conversation from cached
// observations, then seeds the new one: everything already on screen is
// marked delivered so history is not replayed.
func (m *Monitor) switchTo(ctx context.Context, focus registry.Focus, key string, src TurnSource) {
	if m.key != "" {
		m.flushCached(ctx)
	}

	m.key = key
	m.focus = focus
	m.turnID = ""
	m.order = nil
	m.tracks = make(map[string]*sectionTrack)
	m.turnDone = true
	m.contextFillSent = false

	turn, err := src.TurnInfo(ctx)
	if err != nil {
		logger.Debug("seed fetch failed", "conversation", focus.Title, "error", err)
		m.key = ""
		return
	}
	m.turnID = turn.TurnID

	// A persisted cursor for this exact turn means a restart interrupted
	// delivery: restore the delivered set instead of skipping everything.
	restored := make(map[string]bool)
	if m.store != nil {
		if cursorTurn, delivered, err := m.store.Cursor(key); err == nil && cursorTurn == turn.TurnID {
			for _, id := range delivered {
				restored[id] = true
			}
		}
	}
	useCursor := len(restored) > 0

	for _, sec := range turn.Sections {
		m.order = append(m.order, sec.ID)
		m.tracks[sec.ID] = &sectionTrack{
			text:      sec.Text,
			delivered: !useCursor || restored[sec.ID],
		}
	}
	if useCursor {
		m.turnDone = m.allDelivered()
	}
	logger.Info("watching conversation", "conversation", focus.Title, "sections", len(turn.Sections), "resumed", useCursor)
}

// flushCached best-effort delivers undelivered sections whose text was
// already observed, using cached data only: the tab has already switched
// away so no further reads of the old conversation are possible.
func (m *Monitor) flushCached(ctx context.Context) {
	for _, id := range m.order {
		tr := m.tracks[id]
		if tr == nil || tr.delivered || tr.text == "" {
			continue
		}
		tr.delivered = true
		if m.paused() {
			continue
		}
		if err := m.sink.DeliverText(ctx, tr.text); err != nil {
			logger.Warn("flush delivery failed", "error", err)
		}
	}
	m.persistCursor()
}

func (m *Monitor) startTurn(ctx context.Context, turn *editor.Turn) {
	m.turnID = turn.TurnID
	m.order = nil
	m.tracks = make(map[string]*sectionTrack)
	m.turnDone = false
	m.contextFillSent = false

	if turn.UserText != "" && !m.injectedByRelay(turn.UserText) {
		if m.paused() {
			return
		}
		if err := m.sink.DeliverUserTurn(ctx, turn.UserText, turn.Images); err != nil {
			logger.Warn("user turn forward failed", "error", err)
		}
	}
}

// walk advances per-section stability and delivers the stable prefix in
// strict order, stopping at the first undelivered section that is still
// changing.
func (m *Monitor) walk(ctx context.Context, focus registry.Focus, turn *editor.Turn) {
	for _, sec := range turn.Sections {
		tr, ok := m.tracks[sec.ID]
		if !ok {
			tr = &sectionTrack{text: sec.Text}
			m.tracks[sec.ID] = tr
			m.order = append(m.order, sec.ID)
			continue
		}
		if sec.Text == tr.text {
			tr.stableTicks++
		} else {
			tr.text = sec.Text
			tr.stableTicks = 0
		}
	}

	dirty := false
	for _, sec := range turn.Sections {
		tr := m.tracks[sec.ID]
		if tr == nil || tr.delivered {
			continue
		}
		if sec.Type == editor.SectionThinking && strings.TrimSpace(tr.text) == "" {
			tr.delivered = true
			dirty = true
			continue
		}
		if tr.stableTicks < m.stableTicks {
			break
		}
		m.deliver(ctx, focus, sec, tr.text)
		tr.delivered = true
		dirty = true
	}
	if dirty {
		m.persistCursor()
	}
}

func (m *Monitor) deliver(ctx context.Context, focus registry.Focus, sec editor.Section, text string) {
	if m.paused() {
		return
	}
	var err error
	switch sec.Type {
	case editor.SectionThinking:
		err = m.sink.DeliverThinking(ctx, text)
	case editor.SectionConfirmation:
		sec.Text = text
		err = m.sink.DeliverConfirmation(ctx, focus, sec)
	default:
		if sec.Type.Rich() {
			sec.Text = text
			err = m.sink.DeliverRich(ctx, focus, sec)
		} else {
			err = m.sink.DeliverText(ctx, text)
		}
	}
	if err != nil {
		logger.Warn("delivery failed", "type", string(sec.Type), "error", err)
	}
}

func (m *Monitor) allDelivered() bool {
	for _, id := range m.order {
		if tr := m.tracks[id]; tr != nil && !tr.delivered {
			return false
		}
	}
	return true
}

func (m *Monitor) keepTyping(ctx context.Context) {
	if m.paused() {
		return
	}
	if time.Since(m.lastTyping) < typingKeepAlive {
		return
	}
	m.lastTyping = time.Now()
	if err := m.sink.Typing(ctx); err != nil {
		logger.Debug("typing indicator failed", "error", err)
	}
}

// checkContextFill fires at most once per turn, at quiescence.
func (m *Monitor) checkContextFill(ctx context.Context, src TurnSource) {
	if m.contextFillSent || m.threshold <= 0 {
		return
	}
	pct, err := src.ContextFillPercent(ctx)
	if err != nil || pct < m.threshold {
		return
	}
	m.contextFillSent = true
	logger.Info("context window filling", "percent", pct)
	m.sink.NotifyContextFill(pct)
}

func (m *Monitor) persistCursor() {
	if m.store == nil || m.key == "" {
		return
	}
	delivered := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if tr := m.tracks[id]; tr != nil && tr.delivered {
			delivered = append(delivered, id)
		}
	}
	if err := m.store.SetCursor(m.key, m.turnID, delivered); err != nil {
		logger.Warn("persist cursor failed", "error", err)
	}
}

func conversationKey(f registry.Focus) string {
	return f.Workspace + "|" + f.ConversationID
}
