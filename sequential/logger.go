// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sequential

import (
	"time"

	"github.com/luxfi/log"
)

// watermarkLogger periodically emits a high-level progress line so
// operators can see a pipeline is alive even when nothing else logs,
// carried over from the original committer's WatermarkLogger.
type watermarkLogger struct {
	pipeline string
	every    time.Duration
	last     time.Time
}

func newWatermarkLogger(pipeline string) *watermarkLogger {
	return &watermarkLogger{pipeline: pipeline, every: 60 * time.Second}
}

func (w *watermarkLogger) log(logger log.Logger, wm Watermark, elapsed time.Duration) {
	now := time.Now()
	if !w.last.IsZero() && now.Sub(w.last) < w.every {
		return
	}
	w.last = now
	logger.Info("committer progress",
		"pipeline", w.pipeline,
		"checkpoint_hi", wm.CheckpointHi,
		"tx_hi", wm.TxHi,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}
