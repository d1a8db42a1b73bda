package summary

import (
	"errors"
	"testing"
	"time"

	"ovndbsync/pkg/core"
)

func TestReportOrdersAndCounts(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sum := New(core.NorthboundDatabase, core.SyncModeRepair, started)
	sum.Record(core.EntityAction{EntityRef: core.EntityRef{Kind: core.KindPort, ID: "p2"}, Action: core.ActionCreate})
	sum.Record(core.EntityAction{EntityRef: core.EntityRef{Kind: core.KindNetwork, ID: "n1"}, Action: core.ActionCreate})
	sum.Record(core.EntityAction{EntityRef: core.EntityRef{Kind: core.KindRouter, ID: "r1"}, Action: core.ActionDelete})
	sum.Fail(core.EntityRef{Kind: core.KindPort, ID: "p9"}, core.ActionCreate, core.ErrMissingParent)
	sum.Wrote(2)

	report := sum.Report(started.Add(3 * time.Second))
	if report.Duration != 3*time.Second {
		t.Fatalf("unexpected duration %s", report.Duration)
	}
	if len(report.Creates) != 2 || report.Creates[0].ID != "n1" {
		t.Fatalf("expected creates ordered by kind, got %+v", report.Creates)
	}
	if sum.Count(core.ActionDelete) != 1 || sum.Count(core.ActionUpdate) != 0 {
		t.Fatalf("unexpected counts")
	}
	if report.Writes != 2 || len(report.Failures) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.InSync() {
		t.Fatalf("expected report with changes to be out of sync")
	}
}

func TestAbortKeepsFirstError(t *testing.T) {
	sum := New(core.SouthboundDatabase, core.SyncModeLog, time.Now())
	sum.Abort(errors.New("connection reset"))
	sum.Abort(errors.New("later"))
	report := sum.Report(time.Now())
	if !report.Aborted || report.Error != "connection reset" {
		t.Fatalf("unexpected abort state %+v", report)
	}
	if !sum.Aborted() {
		t.Fatalf("expected Aborted to report true")
	}
}

func TestNilSummaryIsSafe(t *testing.T) {
	var sum *Summary
	if sum.Count(core.ActionCreate) != 0 || sum.Aborted() {
		t.Fatalf("expected nil summary to report zero")
	}
}
