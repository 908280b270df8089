package version

import (
	"fmt"
	"runtime"

	"github.com/pscheid92/autoapply/internal/metrics"
)

// Build information, injected via ldflags:
//
//	-X github.com/pscheid92/autoapply/internal/platform/version.Version=v1.2.0
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func (i Info) String() string {
	return fmt.Sprintf("autoapply %s (commit %s, built %s, %s)", i.Version, i.Commit, i.BuildTime, i.GoVersion)
}

// RecordBuildInfo exports the build information as the build_info gauge.
func RecordBuildInfo() {
	i := Get()
	metrics.BuildInfo.WithLabelValues(i.Version, i.Commit, i.BuildTime, i.GoVersion).Set(1)
}
