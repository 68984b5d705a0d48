package session

import (
	"sync"
	"time"
)

// Revealer progressively shows an already received answer.
//
// Reveal starts showing text, calling onProgress with the revealed prefix and onDone exactly once
// when the whole text is out. Starting a new reveal stops the previous one without completing it.
// FastForward completes the current reveal immediately and returns after onDone has run. Stop cancels
// the current reveal without calling onDone.
type Revealer interface {
	Reveal(text string, onProgress func(revealed string), onDone func())
	FastForward()
	Stop()
}

// Typewriter is a Revealer that shows step characters every interval. A non-positive interval
// reveals the whole text synchronously.
type Typewriter struct {
	interval time.Duration
	step     int

	mu  sync.Mutex
	cur *reveal
}

type reveal struct {
	fastForward chan struct{}
	stop        chan struct{}
	done        chan struct{}

	ffOnce   sync.Once
	stopOnce sync.Once
}

// NewTypewriter creates a Typewriter. A step below one is treated as one.
func NewTypewriter(interval time.Duration, step int) *Typewriter {
	if step < 1 {
		step = 1
	}
	return &Typewriter{
		interval: interval,
		step:     step,
	}
}

// Reveal implements Revealer.
func (t *Typewriter) Reveal(text string, onProgress func(string), onDone func()) {
	t.Stop()

	if t.interval <= 0 {
		if onProgress != nil {
			onProgress(text)
		}
		onDone()
		return
	}

	r := &reveal{
		fastForward: make(chan struct{}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	t.mu.Lock()
	t.cur = r
	t.mu.Unlock()

	go t.run(r, []rune(text), onProgress, onDone)
}

func (t *Typewriter) run(r *reveal, runes []rune, onProgress func(string), onDone func()) {
	defer func() {
		t.mu.Lock()
		if t.cur == r {
			t.cur = nil
		}
		t.mu.Unlock()
		close(r.done)
	}()

	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	n := 0
	for n < len(runes) {
		select {
		case <-r.stop:
			return
		case <-r.fastForward:
			n = len(runes)
		case <-timer.C:
			n = min(n+t.step, len(runes))
			timer.Reset(t.interval)
		}
		if onProgress != nil {
			onProgress(string(runes[:n]))
		}
	}

	select {
	case <-r.stop:
		return
	default:
	}
	onDone()
}

// FastForward implements Revealer. It must not be called from onProgress or onDone.
func (t *Typewriter) FastForward() {
	t.mu.Lock()
	r := t.cur
	t.mu.Unlock()
	if r == nil {
		return
	}

	r.ffOnce.Do(func() { close(r.fastForward) })
	<-r.done
}

// Stop implements Revealer. It must not be called from onProgress or onDone.
func (t *Typewriter) Stop() {
	t.mu.Lock()
	r := t.cur
	t.mu.Unlock()
	if r == nil {
		return
	}

	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
