package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/modplay/internal/observe"
	"github.com/MrWong99/modplay/pkg/audio"
	"github.com/MrWong99/modplay/pkg/engine"
)

// drainTimeout bounds how long a finished session waits for buffered audio.
const drainTimeout = 2 * time.Second

// pumpResult is what a finished pump reports back to the controller.
type pumpResult struct {
	frames  int64
	outcome Outcome
	err     error
}

// pump is the frame loop of one session. It is the only goroutine that
// decodes frames and writes to the output while the session runs.
type pump struct {
	sessionID string
	player    *engine.Player
	out       audio.Output
	gate      *pauseGate
	stop      <-chan struct{}
	live      *liveness
	loop      *atomic.Bool
	snap      *snapshotSlot
	metrics   *observe.Metrics
	log       *slog.Logger

	seq uint64
}

func (p *pump) stopping() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// run decodes until the module ends, the session is stopped or a fault
// occurs, then tears the session down. It never restarts.
func (p *pump) run(ctx context.Context) pumpResult {
	res := p.loopFrames(ctx)
	if res.outcome == OutcomeFinished {
		p.drain(ctx)
	}
	p.teardown()
	return res
}

func (p *pump) loopFrames(ctx context.Context) pumpResult {
	var frames int64
	for {
		if !p.gate.wait(p.stop) {
			return pumpResult{frames: frames, outcome: OutcomeStopped}
		}

		fi, err := p.player.PlayFrame()
		if err != nil {
			if errors.Is(err, engine.ErrEndOfStream) {
				if p.stopping() {
					return pumpResult{frames: frames, outcome: OutcomeStopped}
				}
				return pumpResult{frames: frames, outcome: OutcomeFinished}
			}
			return pumpResult{frames: frames, outcome: OutcomeFaulted, err: err}
		}
		if fi.LoopCount > 0 && !p.loop.Load() {
			return pumpResult{frames: frames, outcome: OutcomeFinished}
		}

		p.seq++
		p.snap.store(&Snapshot{Seq: p.seq, SessionID: p.sessionID, FrameInfo: fi})
		p.metrics.FramesDecoded.Add(ctx, 1)

		start := time.Now()
		_, err = p.out.Write(fi.Buffer)
		p.metrics.SinkWriteDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			if p.stopping() && errors.Is(err, audio.ErrStopped) {
				return pumpResult{frames: frames, outcome: OutcomeStopped}
			}
			return pumpResult{frames: frames, outcome: OutcomeFaulted, err: fmt.Errorf("playback: write frame: %w", err)}
		}
		frames++
	}
}

// drain lets an output that buffers ahead of the device play out the end of
// the module. A Stop issued meanwhile cuts it short.
func (p *pump) drain(ctx context.Context) {
	d, ok := p.out.(audio.Drainer)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if err := d.Drain(ctx); err != nil && !errors.Is(err, audio.ErrStopped) {
		p.log.Warn("drain audio output", "session_id", p.sessionID, "err", err)
	}
}

// teardown ends the engine, stops the output and releases the module, in
// that order.
func (p *pump) teardown() {
	p.live.end(func() {
		p.player.End()
		if err := p.out.Stop(); err != nil && !errors.Is(err, audio.ErrClosed) {
			p.log.Warn("stop audio output", "session_id", p.sessionID, "err", err)
		}
		p.player.ReleaseModule()
	})
}

// recordEnd reports the result of a session to the metrics instruments.
func recordEnd(ctx context.Context, m *observe.Metrics, res pumpResult) {
	m.RecordSessionEnded(ctx, string(res.outcome))
	if res.outcome == OutcomeFaulted {
		kind := "output"
		if errors.Is(res.err, engine.ErrInternal) {
			kind = "engine"
		}
		m.EngineFaults.Add(ctx, 1, metric.WithAttributes(observe.Attr("source", kind)))
	}
}
