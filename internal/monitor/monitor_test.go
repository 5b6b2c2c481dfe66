package monitor

import (
	"context"
	"testing"

	"pocketbridge/internal/config"
	"pocketbridge/internal/editor"
	"pocketbridge/internal/registry"
)

type fakeSource struct {
	turn       *editor.Turn
	generating bool
	percent    int
}

func (f *fakeSource) TurnInfo(context.Context) (*editor.Turn, error) { return f.turn, nil }
func (f *fakeSource) IsGenerating(context.Context) (bool, error)     { return f.generating, nil }
func (f *fakeSource) ContextFillPercent(context.Context) (int, error) {
	return f.percent, nil
}

type fakeSink struct {
	texts         []string
	thinking      []string
	rich          []editor.Section
	confirmations []editor.Section
	userTurns     []string
	contextFills  []int
	typing        int
}

func (f *fakeSink) DeliverText(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return nil
}
func (f *fakeSink) DeliverThinking(_ context.Context, text string) error {
	f.thinking = append(f.thinking, text)
	return nil
}
func (f *fakeSink) DeliverRich(_ context.Context, _ registry.Focus, sec editor.Section) error {
	f.rich = append(f.rich, sec)
	return nil
}
func (f *fakeSink) DeliverConfirmation(_ context.Context, _ registry.Focus, sec editor.Section) error {
	f.confirmations = append(f.confirmations, sec)
	return nil
}
func (f *fakeSink) DeliverUserTurn(_ context.Context, text string, _ []string) error {
	f.userTurns = append(f.userTurns, text)
	return nil
}
func (f *fakeSink) NotifyContextFill(p int)      { f.contextFills = append(f.contextFills, p) }
func (f *fakeSink) Typing(context.Context) error { f.typing++; return nil }

func notPaused() bool { return false }

func newTestMonitor(sink Sink, paused func() bool) *Monitor {
	return New(nil, nil, sink, paused, 2, 80)
}

var focusA = registry.Focus{InstanceID: "t1", Workspace: "proj", ConversationID: "pc-1", Title: "A"}
var focusB = registry.Focus{InstanceID: "t1", Workspace: "proj", ConversationID: "pc-2", Title: "B"}

func turn(id string, sections ...editor.Section) *editor.Turn {
	return &editor.Turn{TurnID: id, Sections: sections}
}

func text(id, body string) editor.Section {
	return editor.Section{ID: id, Type: editor.SectionText, Text: body}
}

func TestSeedDoesNotReplayHistory(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMonitor(sink, notPaused)
	src := &fakeSource{turn: turn("turn:1", text("s1", "old answer"), text("s2", "more"))}

	for i := 0; i < 5; i++ {
		m.Observe(context.Background(), focusA, src)
	}
	if len(sink.texts) != 0 {
		t.Errorf("seed delivered %v, want nothing", sink.texts)
	}
}

func TestSectionDeliveredAfterStability(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMonitor(sink, notPaused)
	src := &fakeSource{turn: turn("turn:1"), generating: true}
	ctx := context.Background()
	m.Observe(ctx, focusA, src) // seed

	src.turn = turn("turn:2", text("s1", "answ"))
	m.Observe(ctx, focusA, src) // new turn, section appears
	src.turn = turn("turn:2", text("s1", "answer."))
	m.Observe(ctx, focusA, src) // text changed, counter reset
	if len(sink.texts) != 0 {
		t.Fatalf("delivered while unstable: %v", sink.texts)
	}
	m.Observe(ctx, focusA, src) // unchanged x1
	if len(sink.texts) != 0 {
		t.Fatalf("delivered before stability threshold: %v", sink.texts)
	}
	m.Observe(ctx, focusA, src) // unchanged x2
	if len(sink.texts) != 1 || sink.texts[0] != "answer." {
		t.Errorf("texts = %v, want [answer.]", sink.texts)
	}
	// No double delivery.
	m.Observe(ctx, focusA, src)
	if len(sink.texts) != 1 {
		t.Errorf("section delivered twice: %v", sink.texts)
	}
}

func TestStrictOrderBlocksOnUnstableSection(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMonitor(sink, notPaused)
	ctx := context.Background()
	src := &fakeSource{turn: turn("turn:1"), generating: true}
	m.Observe(ctx, focusA, src)

	// s1 keeps changing while s2 is already stable; s2 must wait.
	src.turn = turn("turn:2", text("s1", "a"), text("s2", "done"))
	m.Observe(ctx, focusA, src)
	src.turn = turn("turn:2", text("s1", "ab"), text("s2", "done"))
	m.Observe(ctx, focusA, src)
	src.turn = turn("turn:2", text("s1", "abc"), text("s2", "done"))
	m.Observe(ctx, focusA, src)
	if len(sink.texts) != 0 {
		t.Fatalf("delivered out of order: %v", sink.texts)
	}

	src.turn = turn("turn:2", text("s1", "abc"), text("s2", "done"))
	m.Observe(ctx, focusA, src)
	m.Observe(ctx, focusA, src)
	if len(sink.texts) != 2 || sink.texts[0] != "abc" || sink.texts[1] != "done" {
		t.Errorf("texts = %v, want [abc done]", sink.texts)
	}
}

func TestPauseGatesDeliveryNotObservation(t *testing.T) {
	sink := &fakeSink{}
	paused := true
	m := newTestMonitor(sink, func() bool { return paused })
	ctx := context.Background()
	src := &fakeSource{turn: turn("turn:1"), generating: true}
	m.Observe(ctx, focusA, src)

	src.turn = turn("turn:2", text("s1", "hidden"))
	for i := 0; i < 4; i++ {
		m.Observe(ctx, focusA, src)
	}
	if len(sink.texts) != 0 {
		t.Fatalf("paused monitor delivered: %v", sink.texts)
	}

	// Unpausing must not replay what was consumed while paused.
	paused = false
	m.Observe(ctx, focusA, src)
	if len(sink.texts) != 0 {
		t.Errorf("consumed section replayed after unpause: %v", sink.texts)
	}
}

func TestUserTurnForwarding(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMonitor(sink, notPaused)
	ctx := context.Background()
	src := &fakeSource{turn: turn("turn:1")}
	m.Observe(ctx, focusA, src)

	src.turn = &editor.Turn{TurnID: "turn:2", UserText: "typed in the editor"}
	m.Observe(ctx, focusA, src)
	if len(sink.userTurns) != 1 || sink.userTurns[0] != "typed in the editor" {
		t.Errorf("userTurns = %v", sink.userTurns)
	}

	m.NoteInjected("[12:30] [Phone] from the phone")
	src.turn = &editor.Turn{TurnID: "turn:3", UserText: "[12:30] [Phone] from the phone"}
	m.Observe(ctx, focusA, src)
	if len(sink.userTurns) != 1 {
		t.Errorf("relay-injected turn forwarded back: %v", sink.userTurns)
	}
}

func TestEmptyThinkingSkipped(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMonitor(sink, notPaused)
	ctx := context.Background()
	src := &fakeSource{turn: turn("turn:1"), generating: true}
	m.Observe(ctx, focusA, src)

	think := editor.Section{ID: "th1", Type: editor.SectionThinking, Text: ""}
	src.turn = turn("turn:2", think, text("s1", "after"))
	for i := 0; i < 4; i++ {
		m.Observe(ctx, focusA, src)
	}
	if len(sink.thinking) != 0 {
		t.Errorf("empty thinking delivered: %v", sink.thinking)
	}
	if len(sink.texts) != 1 || sink.texts[0] != "after" {
		t.Errorf("text after empty thinking not delivered: %v", sink.texts)
	}
}

func TestRichAndConfirmationRouting(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMonitor(sink, notPaused)
	ctx := context.Background()
	src := &fakeSource{turn: turn("turn:1"), generating: true}
	m.Observe(ctx, focusA, src)

	code := editor.Section{ID: "c1", Type: editor.SectionCodeBlock, Text: "func main() {}", Selector: "#bubble-1 .markdown-block-code"}
	conf := editor.Section{ID: "tc1", Type: editor.SectionConfirmation, Text: "ls -la", AcceptLabel: "Run"}
	src.turn = turn("turn:2", code, conf)
	for i := 0; i < 4; i++ {
		m.Observe(ctx, focusA, src)
	}
	if len(sink.rich) != 1 || sink.rich[0].ID != "c1" {
		t.Errorf("rich = %v", sink.rich)
	}
	if len(sink.confirmations) != 1 || sink.confirmations[0].ID != "tc1" {
		t.Errorf("confirmations = %v", sink.confirmations)
	}
}

func TestContextFillFiresOnceAtQuiescence(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMonitor(sink, notPaused)
	ctx := context.Background()
	src := &fakeSource{turn: turn("turn:1"), generating: true, percent: 85}
	m.Observe(ctx, focusA, src)

	src.turn = turn("turn:2", text("s1", "done"))
	for i := 0; i < 3; i++ {
		m.Observe(ctx, focusA, src)
	}
	if len(sink.contextFills) != 0 {
		t.Fatal("context fill fired while still generating")
	}
	src.generating = false
	m.Observe(ctx, focusA, src)
	m.Observe(ctx, focusA, src)
	if len(sink.contextFills) != 1 || sink.contextFills[0] != 85 {
		t.Errorf("contextFills = %v, want one event at 85", sink.contextFills)
	}
}

func TestFocusSwitchFlushesCachedSections(t *testing.T) {
	sink := &fakeSink{}
	m := newTestMonitor(sink, notPaused)
	ctx := context.Background()
	src := &fakeSource{turn: turn("turn:1"), generating: true}
	m.Observe(ctx, focusA, src)

	// A section is observed but never reaches stability before the user
	// switches away.
	src.turn = turn("turn:2", text("s1", "almost finished"))
	m.Observe(ctx, focusA, src)

	other := &fakeSource{turn: turn("turn:9", text("old", "history"))}
	m.Observe(ctx, focusB, other)
	if len(sink.texts) != 1 || sink.texts[0] != "almost finished" {
		t.Errorf("texts = %v, want flushed section", sink.texts)
	}
	// The new conversation's history must not have been delivered.
	for _, got := range sink.texts {
		if got == "history" {
			t.Error("switch replayed the new conversation's history")
		}
	}
}

func TestFocusLostFlushesCachedSections(t *testing.T) {
	sink := &fakeSink{}
	reg := registry.New(config.EditorConfig{}, nil)
	m := New(reg, nil, sink, notPaused, 2, 80)
	ctx := context.Background()
	src := &fakeSource{turn: turn("turn:1"), generating: true}
	m.Observe(ctx, focusA, src)

	// A section is observed but the focused window closes before it
	// reaches stability.
	src.turn = turn("turn:2", text("s1", "almost finished"))
	m.Observe(ctx, focusA, src)

	m.tick(ctx) // registry focus is zero
	if len(sink.texts) != 1 || sink.texts[0] != "almost finished" {
		t.Errorf("texts = %v, want flushed section", sink.texts)
	}
	// A second zero-focus tick must not flush again.
	m.tick(ctx)
	if len(sink.texts) != 1 {
		t.Errorf("texts = %v, want single flush", sink.texts)
	}
}
