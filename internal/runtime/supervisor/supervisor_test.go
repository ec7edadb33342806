package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGoRecordsFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	want := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return want })
	s.Wait()

	if !errors.Is(s.Err(), want) {
		t.Fatalf("Err = %v, want %v", s.Err(), want)
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError())

	s.Go("failing", func(ctx context.Context) error { return errors.New("boom") })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled after error")
	}
	s.Wait()
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	s.Go("panicky", func(ctx context.Context) error { panic("oops") })
	s.Wait()

	if s.Err() == nil {
		t.Fatal("panic not recorded as error")
	}
}

func TestStopCancelsAndWaits(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	exited := make(chan struct{})
	s.Go0("blocker", func(ctx context.Context) {
		<-ctx.Done()
		close(exited)
	})

	s.Stop()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not exit on Stop")
	}
}
