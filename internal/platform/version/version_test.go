package version

import (
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/autoapply/internal/metrics"
	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	i := Get()

	assert.Equal(t, "dev", i.Version)
	assert.Equal(t, runtime.Version(), i.GoVersion)
	assert.Contains(t, i.String(), "autoapply dev")
}

func TestRecordBuildInfo(t *testing.T) {
	RecordBuildInfo()

	i := Get()
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.BuildInfo.WithLabelValues(i.Version, i.Commit, i.BuildTime, i.GoVersion)), 1e-9)
}
