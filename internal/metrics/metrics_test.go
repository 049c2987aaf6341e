package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordIngest(t *testing.T) {
	before := testutil.ToFloat64(IngestRuns.WithLabelValues("ok"))
	RecordIngest("ok", 250*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(IngestRuns.WithLabelValues("ok")))
}

func TestRecordEnrich(t *testing.T) {
	before := testutil.ToFloat64(EnrichRuns.WithLabelValues("timeout"))
	RecordEnrich("timeout")
	require.Equal(t, before+1, testutil.ToFloat64(EnrichRuns.WithLabelValues("timeout")))
}
