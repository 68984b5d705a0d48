package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/tutor-web-ui/internal/session"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

type revealRecorder struct {
	mu       sync.Mutex
	progress []string
	doneN    int
	done     chan struct{}
}

func newRevealRecorder() *revealRecorder {
	return &revealRecorder{done: make(chan struct{}, 1)}
}

func (r *revealRecorder) onProgress(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, s)
}

func (r *revealRecorder) onDone() {
	r.mu.Lock()
	r.doneN++
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *revealRecorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.progress...), r.doneN
}

func TestTypewriterReveal(t *testing.T) {
	defer goleak.VerifyNone(t)

	tw := session.NewTypewriter(time.Millisecond, 2)
	rec := newRevealRecorder()
	tw.Reveal("olá!!", rec.onProgress, rec.onDone)

	select {
	case <-rec.done:
	case <-time.After(5 * time.Second):
		t.Fatal("reveal did not complete")
	}
	tw.Stop()

	progress, doneN := rec.snapshot()
	if diff := cmp.Diff([]string{"ol", "olá!", "olá!!"}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if doneN != 1 {
		t.Errorf("onDone called %d times, want 1", doneN)
	}
}

func TestTypewriterFastForward(t *testing.T) {
	defer goleak.VerifyNone(t)

	tw := session.NewTypewriter(time.Hour, 1)
	rec := newRevealRecorder()
	tw.Reveal("resposta completa", rec.onProgress, rec.onDone)

	tw.FastForward()
	tw.FastForward()

	progress, doneN := rec.snapshot()
	if doneN != 1 {
		t.Fatalf("onDone called %d times, want 1", doneN)
	}
	if len(progress) == 0 || progress[len(progress)-1] != "resposta completa" {
		t.Errorf("last progress = %v, want full text", progress)
	}
}

func TestTypewriterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	tw := session.NewTypewriter(time.Hour, 1)
	rec := newRevealRecorder()
	tw.Reveal("nunca mostrado", rec.onProgress, rec.onDone)
	tw.Stop()

	if _, doneN := rec.snapshot(); doneN != 0 {
		t.Errorf("onDone called %d times after Stop, want 0", doneN)
	}
}

func TestTypewriterRestartStopsPrevious(t *testing.T) {
	defer goleak.VerifyNone(t)

	tw := session.NewTypewriter(time.Hour, 1)
	first := newRevealRecorder()
	second := newRevealRecorder()

	tw.Reveal("primeira", first.onProgress, first.onDone)
	tw.Reveal("segunda", second.onProgress, second.onDone)
	tw.FastForward()

	if _, doneN := first.snapshot(); doneN != 0 {
		t.Errorf("first reveal completed %d times, want 0", doneN)
	}
	if _, doneN := second.snapshot(); doneN != 1 {
		t.Errorf("second reveal completed %d times, want 1", doneN)
	}
}

func TestTypewriterInstant(t *testing.T) {
	tw := session.NewTypewriter(0, 1)
	rec := newRevealRecorder()
	tw.Reveal("já", rec.onProgress, rec.onDone)

	progress, doneN := rec.snapshot()
	if doneN != 1 {
		t.Errorf("onDone called %d times, want 1", doneN)
	}
	if diff := cmp.Diff([]string{"já"}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}
