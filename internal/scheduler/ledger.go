package scheduler

import (
	"slices"
	"sync"
	"time"
)

// DefaultLedgerLimit bounds the in-memory batch ledger.
const DefaultLedgerLimit = 500

// BatchMetrics summarises one executed batch. Values are immutable once
// published.
type BatchMetrics struct {
	ID              string        `json:"id"`
	Requests        int           `json:"requests"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	TotalDuration   time.Duration `json:"total_duration"`
	AverageDuration time.Duration `json:"average_duration"`
	Elapsed         time.Duration `json:"elapsed"`
	Groups          int           `json:"groups"`
	Timestamp       time.Time     `json:"timestamp"`
}

type subscriber struct {
	id uint64
	fn func(BatchMetrics)
}

// ledger keeps recent batch metrics and fans them out to subscribers. The
// emit lock serialises publication so every subscriber sees batches in the
// same order the ledger records them. mu guards state only and is never held
// while subscribers run.
type ledger struct {
	emit    sync.Mutex
	mu      sync.Mutex
	limit   int
	entries []BatchMetrics
	start   int
	subs    []subscriber
	nextSub uint64
}

func newLedger(limit int) *ledger {
	if limit <= 0 {
		limit = DefaultLedgerLimit
	}
	return &ledger{limit: limit}
}

func (l *ledger) subscribe(fn func(BatchMetrics)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSub++
	id := l.nextSub
	l.subs = append(l.subs, subscriber{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, sub := range l.subs {
			if sub.id == id {
				l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// publish records m and calls the subscribers registered at that moment.
func (l *ledger) publish(m BatchMetrics) {
	l.emit.Lock()
	defer l.emit.Unlock()

	l.mu.Lock()
	if len(l.entries) < l.limit {
		l.entries = append(l.entries, m)
	} else {
		l.entries[l.start] = m
		l.start = (l.start + 1) % l.limit
	}
	subs := slices.Clone(l.subs)
	l.mu.Unlock()

	for _, sub := range subs {
		sub.fn(m)
	}
}

func (l *ledger) history() []BatchMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]BatchMetrics, 0, len(l.entries))
	out = append(out, l.entries[l.start:]...)
	out = append(out, l.entries[:l.start]...)
	return out
}
