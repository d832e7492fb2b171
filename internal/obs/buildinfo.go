package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// build_info is a constant 1 labelled with version and commit.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "access_build_info",
			Help: "Access node build information.",
		},
		[]string{"version", "commit", "merkle_scheme"},
	)
)

// InitBuildInfo registers access_build_info once and sets the labelled value.
func InitBuildInfo(version, commit, scheme string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, commit, scheme).Set(1)
}
