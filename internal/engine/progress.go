package engine

import (
	"sync"
	"time"
)

// Phase identifies a pipeline stage for progress reporting. Within
// one operation, phases only ever move forward.
type Phase string

const (
	PhaseDownloading  Phase = "downloading"
	PhaseVerifying    Phase = "verifying"
	PhaseExtracting   Phase = "extracting"
	PhaseInstalling   Phase = "installing"
	PhaseUninstalling Phase = "uninstalling"
	PhaseDone         Phase = "done"
)

// phaseRank orders phases so the emitter can refuse regressions.
var phaseRank = map[Phase]int{
	PhaseDownloading:  1,
	PhaseVerifying:    2,
	PhaseExtracting:   3,
	PhaseInstalling:   4,
	PhaseUninstalling: 4,
	PhaseDone:         5,
}

// Event is one progress observation. Purely informational, never
// persisted. Percent and TotalBytes are -1 when unknown.
type Event struct {
	AddonID          string
	Phase            Phase
	Percent          int
	TransferredBytes int64
	TotalBytes       int64
	OverallPercent   int
	Message          string
}

// Sink receives progress events. Delivery is fire-and-forget; sinks
// must not block.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish calls the function.
func (f SinkFunc) Publish(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Publish(Event) {}

// NopSink returns a Sink that discards everything.
func NopSink() Sink { return nopSink{} }

// phaseSpan maps a phase's local 0-100 onto the operation's overall
// percent range.
type phaseSpan struct {
	base  int
	width int
}

var installSpans = map[Phase]phaseSpan{
	PhaseDownloading: {0, 30},
	PhaseVerifying:   {30, 5},
	PhaseExtracting:  {35, 25},
	PhaseInstalling:  {60, 39},
	PhaseDone:        {100, 0},
}

var uninstallSpans = map[Phase]phaseSpan{
	PhaseUninstalling: {0, 99},
	PhaseDone:         {100, 0},
}

// emitInterval is the minimum gap between throttled emissions. Phase
// transitions and completion boundaries always flush.
const emitInterval = 150 * time.Millisecond

// emitter coalesces high-frequency progress callbacks into a bounded
// event stream with a monotonic overall percent.
type emitter struct {
	addonID string
	sink    Sink
	spans   map[Phase]phaseSpan
	now     func() time.Time

	mu       sync.Mutex
	lastEmit time.Time
	rank     int
	overall  int
}

func newEmitter(addonID string, sink Sink, spans map[Phase]phaseSpan) *emitter {
	if sink == nil {
		sink = NopSink()
	}
	return &emitter{
		addonID: addonID,
		sink:    sink,
		spans:   spans,
		now:     time.Now,
	}
}

// enterPhase announces a phase transition. Transitions only move
// forward; a stale or repeated transition is dropped.
func (e *emitter) enterPhase(p Phase, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rank := phaseRank[p]
	if rank <= e.rank && e.rank != 0 {
		return
	}
	e.rank = rank
	e.emitLocked(p, 0, 0, -1, msg)
}

// update reports intra-phase progress, throttled to emitInterval.
// percent may be -1 when unknown; the event then acts as a heartbeat.
func (e *emitter) update(p Phase, percent int, transferred, total int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if phaseRank[p] < e.rank {
		return
	}
	if e.now().Sub(e.lastEmit) < emitInterval {
		return
	}
	e.emitLocked(p, percent, transferred, total, "")
}

// flush reports progress unconditionally, for file-completion
// boundaries and phase completion.
func (e *emitter) flush(p Phase, percent int, transferred, total int64, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if phaseRank[p] < e.rank {
		return
	}
	e.emitLocked(p, percent, transferred, total, msg)
}

// done marks the operation complete at overall 100.
func (e *emitter) done(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rank = phaseRank[PhaseDone]
	e.emitLocked(PhaseDone, 100, 0, -1, msg)
}

func (e *emitter) emitLocked(p Phase, percent int, transferred, total int64, msg string) {
	overall := e.overallFor(p, percent)
	if overall < e.overall {
		overall = e.overall
	}
	e.overall = overall
	e.lastEmit = e.now()

	e.sink.Publish(Event{
		AddonID:          e.addonID,
		Phase:            p,
		Percent:          percent,
		TransferredBytes: transferred,
		TotalBytes:       total,
		OverallPercent:   overall,
		Message:          msg,
	})
}

func (e *emitter) overallFor(p Phase, percent int) int {
	span, ok := e.spans[p]
	if !ok {
		return e.overall
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return span.base + span.width*percent/100
}
