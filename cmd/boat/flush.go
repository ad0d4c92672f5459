package main

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/boatnav/internal/recorder"
)

// flushUntil flushes rec every interval (only at the end when interval is
// zero) and makes the final flush once done is closed. done should close
// after every goroutine appending to rec has returned.
func flushUntil(done <-chan struct{}, rec *recorder.Recorder, interval time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if interval > 0 {
		err := rec.RunPeriodic(ctx, interval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	<-ctx.Done()
	_, err := rec.Flush(context.Background())
	return err
}
