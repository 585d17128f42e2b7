// Package typewriter reveals hint text progressively, one rune per tick, for
// the search-box placeholder animation.
package typewriter

import (
	"context"
	"sync"
	"time"
)

// Writer cycles through hint strings, emitting each growing prefix through
// the callback and holding the complete hint before moving on.
type Writer struct {
	interval time.Duration
	hold     time.Duration
	emit     func(text string)

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(interval time.Duration, hold time.Duration, emit func(text string)) *Writer {
	if interval <= 0 {
		interval = 60 * time.Millisecond
	}
	if hold <= 0 {
		hold = 2 * time.Second
	}
	return &Writer{interval: interval, hold: hold, emit: emit}
}

// Start begins cycling through hints. A running animation is replaced.
func (w *Writer) Start(hints []string) {
	if len(hints) == 0 || w.emit == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.cancel = cancel
	w.mu.Unlock()

	go w.run(ctx, hints)
}

// Stop halts the animation. Idempotent; safe when nothing is running.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.mu.Unlock()
}

func (w *Writer) run(ctx context.Context, hints []string) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		for _, hint := range hints {
			runes := []rune(hint)
			for i := 1; i <= len(runes); i++ {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				w.emit(string(runes[:i]))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(w.hold):
			}
		}
	}
}
