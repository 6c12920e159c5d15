package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsByLabel(t *testing.T) {
	r := NewRecorder()

	before := testutil.ToFloat64(CatalogCallsTotal.WithLabelValues("verify", "error"))
	r.RecordCatalogCall("verify", errors.New("boom"), 10*time.Millisecond)
	if got := testutil.ToFloat64(CatalogCallsTotal.WithLabelValues("verify", "error")); got != before+1 {
		t.Fatalf("expected verify/error counter to grow by 1, got %v -> %v", before, got)
	}

	beforeVerdict := testutil.ToFloat64(VerdictsTotal.WithLabelValues("error"))
	r.RecordVerdict(false, true)
	if got := testutil.ToFloat64(VerdictsTotal.WithLabelValues("error")); got != beforeVerdict+1 {
		t.Fatalf("expected transport failure verdict counted as error")
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.RecordCatalogCall("x", nil, time.Second)
	r.RecordStale("x")
	r.RecordFetchFailure("x")
	r.RecordVerdict(true, false)
	r.RecordDraft("save", nil)
	r.SessionOpened()
	r.SessionClosed()
}
