package gitres

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFuture_PollBeforeAndAfterSettle(t *testing.T) {
	release := make(chan struct{})
	f := Go(func() (int, error) {
		<-release
		return 42, nil
	})

	if _, _, settled := f.Poll(); settled {
		t.Fatal("expected Poll to report unsettled before release")
	}

	close(release)

	deadline := time.After(time.Second)
	for {
		if val, err, settled := f.Poll(); settled {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if val != 42 {
				t.Fatalf("expected 42, got %d", val)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("future never settled")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestFuture_WaitReturnsError(t *testing.T) {
	wantErr := errors.New("boom")
	f := Go(func() (string, error) {
		return "", wantErr
	})

	val, err := f.Wait(context.Background())
	if err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if val != "" {
		t.Fatalf("expected zero value, got %q", val)
	}
}

func TestFuture_WaitCanceledContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := Go(func() (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Wait(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
