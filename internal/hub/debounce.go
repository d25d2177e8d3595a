package hub

import (
	"sync"
	"time"
)

// KeyedDebouncer runs one cancellable delayed task per key. Reset replaces
// any pending task for the key (cancel-and-reschedule), so the callback only
// fires after the delay passes with no further activity on that key.
type KeyedDebouncer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	delay  time.Duration
	fn     func(key string)
}

// NewKeyedDebouncer creates a KeyedDebouncer firing fn after delay of
// inactivity per key.
func NewKeyedDebouncer(delay time.Duration, fn func(key string)) *KeyedDebouncer {
	if fn == nil {
		panic("callback cannot be nil for KeyedDebouncer")
	}
	return &KeyedDebouncer{
		timers: make(map[string]*time.Timer),
		delay:  delay,
		fn:     fn,
	}
}

// Reset starts the key's countdown over, scheduling the callback delay from
// now.
func (d *KeyedDebouncer) Reset(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// A concurrent Reset may have replaced this timer between firing and
		// acquiring the lock; only the current timer gets to run the callback.
		if cur, ok := d.timers[key]; !ok || cur != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		d.fn(key)
	})
	d.timers[key] = t
}

// Cancel drops any pending task for the key without running it.
func (d *KeyedDebouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// Pending reports whether the key currently has a scheduled task.
func (d *KeyedDebouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.timers[key]
	return ok
}

// StopAll cancels every pending task. Used during shutdown.
func (d *KeyedDebouncer) StopAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
