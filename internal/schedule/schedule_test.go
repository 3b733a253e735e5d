package schedule_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"douyin-harvester/internal/config"
	"douyin-harvester/internal/schedule"
)

func TestScheduler_RunsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var ran []string
	fired := make(chan struct{}, 4)
	s, err := schedule.New(ctx, []config.Job{
		{Name: "search", Spec: "@every 1s", Service: "search"},
		{Spec: "0 3 * * *", Service: "message"},
	}, func(_ context.Context, svc string) error {
		mu.Lock()
		ran = append(ran, svc)
		mu.Unlock()
		select {
		case fired <- struct{}{}:
		default:
		}
		return errors.New("busy")
	})
	if err != nil {
		t.Fatal(err)
	}
	names := s.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "message#1" || names[1] != "search" {
		t.Fatalf("names: %v", names)
	}

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
	if s.Next("message#1") == 0 || s.Next("nope") != 0 {
		t.Fatal("next run times")
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(ran) == 0 || ran[0] != "search" {
		t.Fatalf("ran: %v", ran)
	}
}

func TestScheduler_BadSpec(t *testing.T) {
	ctx := context.Background()
	if _, err := schedule.New(ctx, nil, nil); !errors.Is(err, schedule.ErrNoJobs) {
		t.Fatalf("no jobs: %v", err)
	}
	if _, err := schedule.New(ctx, []config.Job{{Spec: "every day", Service: "like"}}, nil); err == nil {
		t.Fatal("invalid spec must fail")
	}
}
