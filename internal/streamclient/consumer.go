package streamclient

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coverdesk/coverdesk/internal/observability"
	"github.com/coverdesk/coverdesk/internal/querycache"
	"github.com/coverdesk/coverdesk/pkg/models"
)

const (
	// DefaultSoftFallbackDelay is how long a turn may stay silent before
	// the synthetic activity notice is shown.
	DefaultSoftFallbackDelay = 2 * time.Second

	// DefaultHardTimeout aborts a turn that never reaches a terminal
	// state.
	DefaultHardTimeout = 30 * time.Second

	// TimeoutNotice replaces the accumulated content when the hard
	// timeout fires.
	TimeoutNotice = "The assistant took too long to respond. Please try again."

	// analyzingToolName labels the synthetic soft-fallback activity.
	analyzingToolName = "analyzing"
)

// Update is one observable change pushed to the UI layer.
type Update struct {
	// Delta is an appended piece of assistant text.
	Delta string

	// ToolCall reports tool activity. Synthetic marks the soft-fallback
	// notice, which corresponds to no real tool.
	ToolCall  *models.ToolCallEvent
	Synthetic bool

	// ToolResult reports a tool outcome.
	ToolResult *models.ToolResultEvent

	// Err carries an in-band error event detail.
	Err string

	// Finished marks the terminal update for this turn. TimedOut
	// distinguishes the hard-timeout path.
	Finished bool
	TimedOut bool
}

// Options configures a turn consumer.
type Options struct {
	SoftFallbackDelay time.Duration
	HardTimeout       time.Duration
	Logger            *observability.Logger
	Cascade           *querycache.Cascade
}

// Turn consumes one streamed assistant response and maintains the
// in-progress message. All stream handling runs on the single Consume
// goroutine; Cancel may be called from anywhere.
type Turn struct {
	id      string
	message *models.Message
	parser  Parser
	opts    Options

	updates    chan Update
	cancelCh   chan struct{}
	cancelOnce sync.Once

	mu        sync.Mutex
	finalized bool
}

// NewTurn creates a consumer for one assistant message.
func NewTurn(message *models.Message, opts Options) *Turn {
	if opts.SoftFallbackDelay <= 0 {
		opts.SoftFallbackDelay = DefaultSoftFallbackDelay
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = DefaultHardTimeout
	}
	return &Turn{
		id:       uuid.NewString(),
		message:  message,
		opts:     opts,
		updates:  make(chan Update, 64),
		cancelCh: make(chan struct{}),
	}
}

// Updates returns the update channel. It is closed when the turn reaches
// a terminal state.
func (t *Turn) Updates() <-chan Update {
	return t.updates
}

// Cancel aborts the turn, keeping whatever content streamed so far.
// Safe to call multiple times and after completion.
func (t *Turn) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

// Finalized reports whether the turn reached a terminal state.
func (t *Turn) Finalized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finalized
}

// Consume reads the stream until a terminal state: the done sentinel,
// transport end, cancellation, or the hard timeout. Two timers run
// alongside: the soft fallback shows a synthetic "analyzing" activity
// if nothing real arrived in time, and the hard timeout replaces the
// accumulated content with a timeout notice. Finalization is idempotent;
// whichever trigger fires first wins.
func (t *Turn) Consume(ctx context.Context, body io.Reader) error {
	defer close(t.updates)

	readCh := make(chan []byte)
	readErrCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case readCh <- data:
				case <-done:
					return
				}
			}
			if err != nil {
				select {
				case readErrCh <- err:
				case <-done:
				}
				return
			}
		}
	}()

	hard := time.NewTimer(t.opts.HardTimeout)
	defer hard.Stop()
	soft := time.NewTimer(t.opts.SoftFallbackDelay)
	defer soft.Stop()
	softArmed := true

	// Any real signal disarms the soft fallback.
	signal := func() {
		if softArmed {
			soft.Stop()
			softArmed = false
		}
	}

	for {
		select {
		case <-ctx.Done():
			t.finalize(ctx, nil)
			t.updates <- Update{Finished: true}
			return ctx.Err()

		case <-t.cancelCh:
			t.finalize(ctx, nil)
			t.updates <- Update{Finished: true}
			return nil

		case <-hard.C:
			notice := TimeoutNotice
			t.finalize(ctx, &notice)
			t.updates <- Update{Finished: true, TimedOut: true}
			return nil

		case <-soft.C:
			softArmed = false
			t.updates <- Update{
				ToolCall: &models.ToolCallEvent{
					Name:   analyzingToolName,
					Status: models.ToolStatusStarted,
				},
				Synthetic: true,
			}

		case err := <-readErrCh:
			t.finalize(ctx, nil)
			if errors.Is(err, io.EOF) {
				t.updates <- Update{Finished: true}
				return nil
			}
			t.updates <- Update{Err: err.Error(), Finished: true}
			return err

		case data := <-readCh:
			for _, item := range t.parser.Feed(data) {
				if item.Done {
					t.finalize(ctx, nil)
					t.updates <- Update{Finished: true}
					return nil
				}
				t.handleEvent(ctx, item.Event, signal)
			}
		}
	}
}

func (t *Turn) handleEvent(ctx context.Context, event *models.StreamEvent, signal func()) {
	switch event.Type {
	case models.StreamEventDelta:
		signal()
		t.message.Append(event.Delta)
		t.updates <- Update{Delta: event.Delta}

	case models.StreamEventToolCall:
		signal()
		t.updates <- Update{ToolCall: event.ToolCall}

	case models.StreamEventToolResult:
		signal()
		t.updates <- Update{ToolResult: event.ToolResult}
		if event.ToolResult != nil &&
			event.ToolResult.Outcome == models.OutcomeSucceeded &&
			t.opts.Cascade != nil {
			t.opts.Cascade.ToolCompleted(ctx, t.id, event.ToolResult.Name)
		}

	case models.StreamEventError:
		signal()
		t.updates <- Update{Err: event.Error}
	}
}

// finalize closes the message exactly once. A nil replace keeps the
// accumulated content; a non-nil one substitutes it (hard timeout).
func (t *Turn) finalize(ctx context.Context, replace *string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return
	}
	t.finalized = true
	t.message.Finalize(replace)

	if t.opts.Logger != nil {
		t.opts.Logger.Debug(ctx, "turn finalized",
			"turn_id", t.id,
			"replaced", replace != nil,
			"content_len", len(t.message.Content),
			"discarded_frames", t.parser.Discarded(),
		)
	}
}
