package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/usecase"
)

func TestObserveRelay(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRelay(usecase.OutcomeOK, 3, 200*time.Millisecond)
	m.ObserveRelay(usecase.OutcomeUpstream, 1, time.Second)
	m.ObserveRelay(usecase.OutcomeInvalid, 0, 0)

	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(usecase.OutcomeOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(usecase.OutcomeUpstream)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(usecase.OutcomeInvalid)))
	require.Equal(t, 4.0, testutil.ToFloat64(m.chunks))

	var pb dto.Metric
	require.NoError(t, m.upstreamDuration.Write(&pb))
	require.Equal(t, uint64(2), pb.GetHistogram().GetSampleCount())
}

func TestArchiveFailedAndBuildInfo(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ArchiveFailed()
	m.SetBuildInfo("v1", "abc", "today")
	require.Equal(t, 1.0, testutil.ToFloat64(m.archiveFailures))
	require.Equal(t, 1.0, testutil.ToFloat64(m.buildInfo.WithLabelValues("today", "abc", "v1")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveRelay(usecase.OutcomeOK, 1, time.Second)
		m.ArchiveFailed()
		m.SetBuildInfo("v", "s", "d")
	})
}
