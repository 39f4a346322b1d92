package maintenance

import (
	"context"
	"testing"
	"time"

	"GProject/module/track/store"
)

func TestRunOnceCreatesAndDrops(t *testing.T) {
	db := store.NewMemStore()
	old := time.Now().UTC().AddDate(0, 0, -40)
	db.AddPartition(old)

	w := NewWorker(db, Config{DaysAhead: 3, RetentionDays: 30})
	w.RunOnce(context.Background())

	if !db.HasPartition(time.Now().UTC()) {
		t.Fatal("today's partition missing after RunOnce")
	}
	if !db.HasPartition(time.Now().UTC().AddDate(0, 0, 3)) {
		t.Fatal("future partition missing after RunOnce")
	}
	if db.HasPartition(old) {
		t.Fatal("expired partition survived RunOnce")
	}
}

func TestRunOnceSurvivesMaintenanceFailure(t *testing.T) {
	db := store.NewMemStore()
	db.FailMaintenance(true)

	w := NewWorker(db, Config{DaysAhead: 2, RetentionDays: 30})
	// 维护失败只告警：本轮正常结束，不建任何分区
	w.RunOnce(context.Background())
	if db.HasPartition(time.Now().UTC()) {
		t.Fatal("partition created despite forced failure")
	}

	// 故障恢复后，下一轮重试补齐
	db.FailMaintenance(false)
	w.RunOnce(context.Background())
	if !db.HasPartition(time.Now().UTC()) {
		t.Fatal("next round did not retry partition creation")
	}
	if !db.HasPartition(time.Now().UTC().AddDate(0, 0, 2)) {
		t.Fatal("next round did not pre-create future partitions")
	}
}

func TestStopWithoutStartReturns(t *testing.T) {
	w := NewWorker(store.NewMemStore(), Config{})
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked when the worker was never started")
	}
}

func TestStartStop(t *testing.T) {
	db := store.NewMemStore()
	w := NewWorker(db, Config{DaysAhead: 1, RetentionDays: 30, Interval: time.Hour})
	w.Start()
	w.Stop()
	if !db.HasPartition(time.Now().UTC()) {
		t.Fatal("initial round did not run before Stop")
	}
}
