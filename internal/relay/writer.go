package relay

import (
	"context"
	"fmt"
	"time"

	"pocketbridge/internal/logger"
)

// injection is one editor mutation. All mutations funnel through the
// writer goroutine: the editor's input pipeline is a shared surface and
// interleaved focus/insert sequences corrupt each other.
type injection struct {
	desc string
	run  func(ctx context.Context) error
}

// RunWriter drains the injection queue until the context ends.
func (r *Relay) RunWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.inject:
			jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := job.run(jobCtx); err != nil {
				logger.Warn("injection failed", "what", job.desc, "error", err)
				r.send(ctx, r.pair.ChatID(), "⚠️ "+job.desc+" failed: "+err.Error())
			}
			cancel()
		}
	}
}

func (r *Relay) enqueue(desc string, run func(ctx context.Context) error) bool {
	select {
	case r.inject <- injection{desc: desc, run: run}:
		return true
	default:
		logger.Warn("injection queue full", "what", desc)
		return false
	}
}

// composeInjection builds the wire text for an editor injection: a
// timestamp plus source tag, and the one-shot context-fill note when the
// monitor flagged one.
func (r *Relay) composeInjection(text, source string) string {
	msg := fmt.Sprintf("[%s] [%s] %s", time.Now().Format("15:04"), source, text)
	if pct := r.contextFill.Swap(0); pct > 0 {
		msg += fmt.Sprintf("\n\n(Note: the context window is %d%% full. Consider wrapping up and suggesting a fresh chat.)", pct)
	}
	return msg
}
