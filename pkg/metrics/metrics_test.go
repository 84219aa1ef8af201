package metrics

import (
	"testing"
	"time"
)

func TestRecordPipelineStage(t *testing.T) {
	RecordPipelineStage("project", "ok", 5*time.Millisecond)
	RecordPipelineStage("project", "retry", 5*time.Millisecond)
}

func TestRecordOutboxClaim(t *testing.T) {
	RecordOutboxClaim("claimed")
	RecordOutboxClaim("lost_race")
}

func TestBusFanoutWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	RecordBusFanoutSample("OrderPlaced", true, now.Add(-time.Second))
	RecordBusFanoutSample("OrderPlaced", false, now.Add(-time.Second))
	RecordBusFanoutSample("OrderPlaced", true, now.Add(-time.Hour))

	window := BusFanoutWindow(5*time.Minute, now)
	got := window["OrderPlaced"]
	if got.OK != 1 || got.Failed != 1 {
		t.Errorf("BusFanoutWindow = %+v, want OK=1 Failed=1", got)
	}
}
