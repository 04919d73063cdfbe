package jobrunner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ironham/conductor/internal/model"
	"github.com/ironham/conductor/internal/phaseexec"
)

func noopCommit(ctx context.Context, worktreePath string, messageFor func() string) (string, error) {
	return "deadbeef", nil
}

func TestRunner_RunsJobToSuccess(t *testing.T) {
	r := New(1, nil, noopCommit, nil, phaseexec.Options{}, nil)

	var mu sync.Mutex
	done := make(chan struct{})
	r.OnTerminal(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-done:
		default:
			close(done)
		}
	})

	r.Submit(Submission{
		Job: model.JobSpec{
			RunnerJobID: "job-1",
			Policy:      model.Policy{Work: "true"},
		},
		WorktreePath: t.TempDir(),
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to terminate")
	}

	state := r.Get("job-1")
	if state == nil {
		t.Fatal("expected job state to be tracked")
	}
	if state.Status != model.JobSucceeded {
		t.Fatalf("expected JobSucceeded, got %s", state.Status)
	}
	if state.CompletedCommit != "deadbeef" {
		t.Fatalf("expected completed commit to be recorded, got %q", state.CompletedCommit)
	}
}

func TestRunner_MaxConcurrencyBound(t *testing.T) {
	r := New(1, nil, noopCommit, nil, phaseexec.Options{}, nil)

	terminalCount := 0
	var mu sync.Mutex
	allDone := make(chan struct{})
	r.OnTerminal(func(id string) {
		mu.Lock()
		terminalCount++
		n := terminalCount
		mu.Unlock()
		if n == 3 {
			close(allDone)
		}
	})

	for i := 0; i < 3; i++ {
		r.Submit(Submission{
			Job: model.JobSpec{
				RunnerJobID: string(rune('A' + i)),
				Policy:      model.Policy{Work: "true"},
			},
			WorktreePath: t.TempDir(),
		})
	}

	select {
	case <-allDone:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for all jobs to terminate")
	}

	for i := 0; i < 3; i++ {
		id := string(rune('A' + i))
		state := r.Get(id)
		if state == nil || state.Status != model.JobSucceeded {
			t.Fatalf("expected job %s to succeed, got %+v", id, state)
		}
	}
}

func TestRunner_EmptyWorkCommandFailsHard(t *testing.T) {
	r := New(1, nil, noopCommit, nil, phaseexec.Options{}, nil)

	done := make(chan struct{})
	r.OnTerminal(func(id string) { close(done) })

	r.Submit(Submission{
		Job: model.JobSpec{
			RunnerJobID: "empty-work",
			Policy:      model.Policy{Work: ""},
		},
		WorktreePath: t.TempDir(),
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}

	state := r.Get("empty-work")
	if state.Status != model.JobFailed {
		t.Fatalf("expected JobFailed for empty work command, got %s", state.Status)
	}
}

func TestRunner_CancelStopsQueuedJob(t *testing.T) {
	r := New(1, nil, noopCommit, nil, phaseexec.Options{}, nil)

	r.mu.Lock()
	r.working = 1 // simulate a slot already occupied so the next submit just queues
	r.mu.Unlock()

	r.Submit(Submission{
		Job: model.JobSpec{
			RunnerJobID: "queued",
			Policy:      model.Policy{Work: "true"},
		},
		WorktreePath: t.TempDir(),
	})

	r.Cancel("queued")

	state := r.Get("queued")
	if state.Status != model.JobCanceled {
		t.Fatalf("expected JobCanceled, got %s", state.Status)
	}

	r.mu.Lock()
	for _, id := range r.queue {
		if id == "queued" {
			r.mu.Unlock()
			t.Fatal("canceled job should be removed from queue")
		}
	}
	r.mu.Unlock()
}
