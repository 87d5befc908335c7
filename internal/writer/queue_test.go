package writer

import (
	"testing"
	"time"

	"github.com/fieldwatch/telemetry-collector/pkg/models"
)

func TestQueuePushGetFIFOOrder(t *testing.T) {
	q := NewQueue()
	q.Push(NewJob("NODE_a-1", models.Batch{NodeID: "NODE_a-1"}))
	q.Push(NewJob("NODE_b-2", models.Batch{NodeID: "NODE_b-2"}))

	first, ok, err := q.Get(time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first job, got ok=%v err=%v", ok, err)
	}
	if first.NodeID != "NODE_a-1" {
		t.Errorf("expected FIFO order, got %q first", first.NodeID)
	}

	second, ok, err := q.Get(time.Second)
	if err != nil || !ok {
		t.Fatalf("expected second job, got ok=%v err=%v", ok, err)
	}
	if second.NodeID != "NODE_b-2" {
		t.Errorf("expected second job NODE_b-2, got %q", second.NodeID)
	}
}

func TestQueueGetTimesOutWhenEmpty(t *testing.T) {
	q := NewQueue()
	_, ok, err := q.Get(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("expected no error on timeout, got %v", err)
	}
	if ok {
		t.Error("expected timeout (ok=false) on empty queue")
	}
}

func TestQueuePushFrontTakesPriority(t *testing.T) {
	q := NewQueue()
	q.Push(NewJob("NODE_a-1", models.Batch{}))
	q.PushFront(NewJob("NODE_retry-1", models.Batch{}))

	job, ok, err := q.Get(time.Second)
	if err != nil || !ok {
		t.Fatalf("expected a job, got ok=%v err=%v", ok, err)
	}
	if job.NodeID != "NODE_retry-1" {
		t.Errorf("expected re-enqueued job to be served first, got %q", job.NodeID)
	}
}

func TestQueuePushAfterShutdownFails(t *testing.T) {
	q := NewQueue()
	q.Shutdown(nil)

	if err := q.Push(NewJob("NODE_a-1", models.Batch{})); err != ErrQueueShutdown {
		t.Errorf("expected ErrQueueShutdown, got %v", err)
	}
}

func TestQueueGetDrainsThenReportsShutdown(t *testing.T) {
	q := NewQueue()
	q.Push(NewJob("NODE_a-1", models.Batch{}))
	q.Shutdown(nil)

	job, ok, err := q.Get(time.Second)
	if err != nil || !ok {
		t.Fatalf("expected to drain remaining job before shutdown error, got ok=%v err=%v", ok, err)
	}
	if job.NodeID != "NODE_a-1" {
		t.Errorf("unexpected job drained: %q", job.NodeID)
	}

	_, ok, err = q.Get(time.Second)
	if ok {
		t.Error("expected no job after drain")
	}
	if err != ErrQueueShutdown {
		t.Errorf("expected ErrQueueShutdown after drain, got %v", err)
	}
}
