package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"vaxdash/internal/amqp"
	"vaxdash/internal/core"
	"vaxdash/internal/sheets"
	"vaxdash/internal/sheets/memory"
)

type fakeRebuilder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRebuilder) Rebuild(context.Context) (core.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return core.Report{}, f.err
	}
	return core.Report{RunID: "run", GeneratedAt: time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeRebuilder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingWriter struct{ err error }

func (w failingWriter) WriteReport(context.Context, core.Report) (string, error) {
	return "", w.err
}

type fakePruner struct{ keep int }

func (p *fakePruner) PruneRuns(_ context.Context, keep int) (int64, error) {
	p.keep = keep
	return 0, nil
}

func TestHandleRefresh_WritesAllSinks(t *testing.T) {
	a, b := memory.New(nil), memory.New(nil)
	pruner := &fakePruner{}
	w := NewRefreshWorker(&fakeRebuilder{}, []Sink{{Name: "a", Writer: a}, {Name: "b", Writer: b}}, Options{Pruner: pruner, KeepRuns: 5})

	if err := w.HandleRefresh(context.Background(), amqp.NewReportRefreshMessage(amqp.ReasonManual)); err != nil {
		t.Fatalf("HandleRefresh: %v", err)
	}
	for name, s := range map[string]*memory.Store{"a": a, "b": b} {
		if r, err := s.LatestReport(context.Background()); err != nil || r.RunID != "run" {
			t.Fatalf("sink %s not written: %+v %v", name, r, err)
		}
	}
	if pruner.keep != 5 {
		t.Fatalf("expected prune with keep=5, got %d", pruner.keep)
	}
	if w.LastBuilt().IsZero() {
		t.Fatal("LastBuilt should be set")
	}
}

func TestHandleRefresh_OneSinkFailing(t *testing.T) {
	good := memory.New(nil)
	boom := errors.New("quota exceeded")
	w := NewRefreshWorker(&fakeRebuilder{}, []Sink{
		{Name: "sheets", Writer: failingWriter{err: boom}},
		{Name: "memory", Writer: good},
	}, Options{})

	err := w.HandleRefresh(context.Background(), amqp.NewReportRefreshMessage(amqp.ReasonManual))
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "sheets") {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if _, err := good.LatestReport(context.Background()); err != nil {
		t.Fatalf("healthy sink should still be written: %v", err)
	}
}

func TestHandleRefresh_LogsSinkOperation(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	w := NewRefreshWorker(&fakeRebuilder{}, []Sink{
		{Name: "sqlite", Writer: memory.New(nil)},
		{Name: "sheets", Writer: memory.New(nil), Remote: true},
	}, Options{})
	if err := w.HandleRefresh(context.Background(), amqp.NewReportRefreshMessage(amqp.ReasonImport)); err != nil {
		t.Fatalf("HandleRefresh: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"sink=sqlite operation=persist run_id=run",
		"sink=sheets operation=export run_id=run",
		"component=worker operation=refresh",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestHandleRefresh_RebuildError(t *testing.T) {
	boom := errors.New("feed unreachable")
	sink := memory.New(nil)
	w := NewRefreshWorker(&fakeRebuilder{err: boom}, []Sink{{Name: "memory", Writer: sink}}, Options{})

	if err := w.HandleRefresh(context.Background(), amqp.NewReportRefreshMessage(amqp.ReasonManual)); !errors.Is(err, boom) {
		t.Fatalf("expected rebuild error, got %v", err)
	}
	if _, err := sink.LatestReport(context.Background()); !errors.Is(err, sheets.ErrNoReport) {
		t.Fatal("nothing should be written when the rebuild fails")
	}
}

func TestStartupCheck(t *testing.T) {
	store := memory.New(nil)
	rb := &fakeRebuilder{}
	w := NewRefreshWorker(rb, []Sink{{Name: "memory", Writer: store}}, Options{Latest: store})

	if err := w.StartupCheck(context.Background()); err != nil {
		t.Fatalf("StartupCheck: %v", err)
	}
	if rb.count() != 1 {
		t.Fatalf("expected a build when nothing is stored, got %d", rb.count())
	}

	if err := w.StartupCheck(context.Background()); err != nil {
		t.Fatalf("StartupCheck: %v", err)
	}
	if rb.count() != 1 {
		t.Fatalf("expected no rebuild once a report is stored, got %d", rb.count())
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	rb := &fakeRebuilder{}
	w := NewRefreshWorker(rb, nil, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}
	if rb.count() < 2 {
		t.Fatalf("expected several scheduled rebuilds, got %d", rb.count())
	}
}
