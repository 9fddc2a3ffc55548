package threat

import (
	"math"
	"time"

	"github.com/netviz/netviz-go/internal/model"
)

// extractFeatures builds the 8-dimension feature vector used by the
// online anomaly detector. is_safe_port is taken directly from
// ev.IsSafePort; there is no "absent" case and no default to true, so
// an event built without that field contributes 0 to the dimension.
func extractFeatures(ev model.EnrichedEvent) []float64 {
	now := time.Now()
	return []float64{
		float64(ev.DPort) / 65535.0,
		float64(ev.SPort) / 65535.0,
		boolToFloat(ev.IsPrivate),
		boolToFloat(ev.IsSafePort),
		float64(len(ev.ProcessName)) / 50.0,
		float64(len(ev.CmdlineFull)) / 200.0,
		float64(now.Hour()) / 24.0,
		float64(int(now.Weekday())) / 7.0,
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// mlAnomalyScore is the online statistical anomaly detector: a rolling
// sample set of feature vectors scored by mean Z-score across
// dimensions, normalized to [0,1]. Until the warmup threshold is
// reached it only accumulates samples and returns 0.
func (a *Analyzer) mlAnomalyScore(ev model.EnrichedEvent) float64 {
	features := extractFeatures(ev)

	if len(a.samples) < anomalyWarmup {
		a.samples = append(a.samples, features)
		return 0
	}

	dims := len(features)
	mean := make([]float64, dims)
	for _, s := range a.samples {
		for d := 0; d < dims; d++ {
			mean[d] += s[d]
		}
	}
	for d := range mean {
		mean[d] /= float64(len(a.samples))
	}

	std := make([]float64, dims)
	for _, s := range a.samples {
		for d := 0; d < dims; d++ {
			diff := s[d] - mean[d]
			std[d] += diff * diff
		}
	}
	for d := range std {
		std[d] = math.Sqrt(std[d]/float64(len(a.samples))) + anomalyEpsilon
	}

	zSum := 0.0
	for d := 0; d < dims; d++ {
		zSum += math.Abs((features[d] - mean[d]) / std[d])
	}
	z := zSum / float64(dims)

	normalized := math.Min(1.0, z/3.0)

	if normalized < anomalyThreshold {
		a.samples = append(a.samples, features)
		if len(a.samples) > anomalyCap {
			a.samples = a.samples[len(a.samples)-anomalyTruncateTo:]
		}
	}

	return normalized
}
