package handlers

import (
	"context"
	"testing"

	"github.com/kozaktomas/reunite/internal/database"
)

func TestJobManager_CreateGetDelete(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob("a", database.PoolMissing, 0.5)
	if job == nil {
		t.Fatal("CreateJob returned nil")
	}
	if job.Status != JobStatusPending || job.MaxDistance != 0.5 {
		t.Errorf("unexpected job %+v", job.Snapshot())
	}
	if jm.GetJob("a") != job {
		t.Error("GetJob did not return the created job")
	}
	if len(jm.ListJobs()) != 1 {
		t.Errorf("expected 1 job, got %d", len(jm.ListJobs()))
	}

	jm.DeleteJob("a")
	if jm.GetJob("a") != nil {
		t.Error("job not deleted")
	}
}

func TestJobManager_OneActiveJobPerPool(t *testing.T) {
	jm := NewJobManager()

	first := jm.CreateJob("a", database.PoolMissing, 0)
	if jm.CreateJob("b", database.PoolMissing, 0) != nil {
		t.Error("second rescan of the same pool must be refused")
	}
	if jm.CreateJob("c", database.PoolSighting, 0) == nil {
		t.Error("rescan of the other pool must be allowed")
	}

	first.finish(JobStatusCompleted, nil, "")
	if jm.CreateJob("d", database.PoolMissing, 0) == nil {
		t.Error("pool must be free once the previous job finished")
	}
}

func TestJobManager_CancelAll(t *testing.T) {
	jm := NewJobManager()
	running := jm.CreateJob("a", database.PoolMissing, 0)
	ctx, cancel := context.WithCancel(context.Background())
	running.setCancel(cancel)

	done := jm.CreateJob("b", database.PoolSighting, 0)
	doneCtx, doneCancel := context.WithCancel(context.Background())
	defer doneCancel()
	done.setCancel(doneCancel)
	done.finish(JobStatusCompleted, nil, "")

	jm.CancelAll()

	if ctx.Err() == nil {
		t.Error("running job not cancelled")
	}
	if doneCtx.Err() != nil {
		t.Error("finished job must not be touched")
	}
}

func TestEventBroadcaster(t *testing.T) {
	var b EventBroadcaster
	ch1 := b.AddListener()
	ch2 := b.AddListener()

	b.SendEvent(JobEvent{Type: "progress"})
	for _, ch := range []chan JobEvent{ch1, ch2} {
		if ev := <-ch; ev.Type != "progress" {
			t.Errorf("unexpected event %+v", ev)
		}
	}

	b.RemoveListener(ch1)
	if _, ok := <-ch1; ok {
		t.Error("removed listener channel must be closed")
	}

	b.SendEvent(JobEvent{Type: "completed"})
	if ev := <-ch2; ev.Type != "completed" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestEventBroadcaster_DropsWhenFull(t *testing.T) {
	var b EventBroadcaster
	ch := b.AddListener()

	for range cap(ch) + 10 {
		b.SendEvent(JobEvent{Type: "progress"})
	}
	if len(ch) != cap(ch) {
		t.Errorf("expected full buffer, got %d/%d", len(ch), cap(ch))
	}
}
