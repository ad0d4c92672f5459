package session

import (
	"context"

	"github.com/banshee-data/boatnav/internal/monitoring"
)

// Worker is the single consumer of an ordered observation stream. It is the
// only caller of Session.Step on the live path.
type Worker struct {
	sess *Session
	in   <-chan Observation

	// OnStep, if set, is called after every successful step.
	OnStep func(StepRecord)
	// OnError, if set, is called for every rejected observation.
	OnError func(Observation, error)
}

// NewWorker returns a Worker that feeds observations from in to sess.
func NewWorker(sess *Session, in <-chan Observation) *Worker {
	return &Worker{sess: sess, in: in}
}

// Run processes observations until ctx is cancelled or in is closed. A
// closed channel is a clean shutdown and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case obs, ok := <-w.in:
			if !ok {
				return nil
			}
			rec, err := w.sess.Step(obs)
			if err != nil {
				monitoring.Logf("session worker: rejected observation t=%.3f: %v", obs.Timestamp, err)
				if w.OnError != nil {
					w.OnError(obs, err)
				}
				continue
			}
			if w.OnStep != nil {
				w.OnStep(rec)
			}
		}
	}
}
