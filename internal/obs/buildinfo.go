package obs

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo describes the running binary and the backends it was wired with.
type BuildInfo struct {
	Version       string
	Commit        string
	Store         string
	Cache         string
	FeatureSource string
}

func (b BuildInfo) labels() prometheus.Labels {
	return prometheus.Labels{
		"version":        orUnknown(b.Version),
		"commit":         orUnknown(b.Commit),
		"store":          orUnknown(b.Store),
		"cache":          orUnknown(b.Cache),
		"feature_source": orUnknown(b.FeatureSource),
	}
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// RegisterBuildInfo publishes sellergate_build_info{...} 1 on reg. Registering the
// same description twice is not an error.
func RegisterBuildInfo(reg prometheus.Registerer, info BuildInfo) error {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "sellergate",
		Name:        "build_info",
		Help:        "Seller gate build and backend wiring. Always 1.",
		ConstLabels: info.labels(),
	})
	if err := reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	gauge.Set(1)
	return nil
}
