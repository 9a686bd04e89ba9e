package server

import (
	"context"
	"errors"
	"sync"
	"testing"

	"connectrpc.com/connect"
)

func TestWorkerRunsEveryJob(t *testing.T) {
	env := newTestEnv(t)

	var (
		mu   sync.Mutex
		seen []int
		wg   sync.WaitGroup
	)
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.Worker.Do(bg(), func(l *Library) error {
				if l != env.Lib {
					t.Error("job got a different library")
				}
				mu.Lock()
				seen = append(seen, i)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()
	if len(seen) != 3 {
		t.Errorf("ran %d jobs, want 3", len(seen))
	}
}

func TestWorkerReturnsJobError(t *testing.T) {
	env := newTestEnv(t)
	want := errors.New("no such save")
	if err := env.Worker.Do(bg(), func(*Library) error { return want }); !errors.Is(err, want) {
		t.Errorf("Do = %v, want %v", err, want)
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	env := newTestEnv(t)
	err := env.Worker.Do(bg(), func(*Library) error { panic("boom") })
	if !errors.Is(err, ErrJobPanicked) {
		t.Fatalf("Do = %v, want ErrJobPanicked", err)
	}
	if err := env.Worker.Do(bg(), func(*Library) error { return nil }); err != nil {
		t.Errorf("worker should keep serving after a panic: %v", err)
	}
}

func TestWorkerSkipsCanceledJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(bg())
	cancel()

	ran := false
	err := env.Worker.Do(ctx, func(*Library) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("a canceled job should not run")
	}
}

func TestWorkerStop(t *testing.T) {
	w := NewWorker(newTestLibrary(t))
	w.Stop()
	w.Stop()
	if err := w.Do(bg(), func(*Library) error { return nil }); !errors.Is(err, ErrStopped) {
		t.Errorf("Do after Stop = %v, want ErrStopped", err)
	}
}

func TestCanceledRequestMapsToConnectCode(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(bg())
	cancel()
	_, err := env.Svc.Slots(ctx, connectReq(&SlotsRequest{}))
	wantCode(t, err, connect.CodeCanceled)
}
