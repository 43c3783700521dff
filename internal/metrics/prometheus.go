package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus records metrics into a Prometheus registry.
type Prometheus struct {
	enrollments        *prometheus.CounterVec
	templatesStored    prometheus.Counter
	recognitions       *prometheus.CounterVec
	matchScore         prometheus.Histogram
	extractionDuration prometheus.Histogram
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		enrollments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facelogin_enrollments_total",
			Help: "Enrollment requests by outcome",
		}, []string{"outcome"}),
		templatesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "facelogin_templates_stored_total",
			Help: "Templates appended to the store",
		}),
		recognitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facelogin_recognitions_total",
			Help: "Recognition requests by outcome",
		}, []string{"outcome"}),
		matchScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facelogin_match_score",
			Help:    "Best cosine similarity per recognition",
			Buckets: prometheus.LinearBuckets(-0.2, 0.1, 13),
		}),
		extractionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facelogin_extraction_duration_seconds",
			Help:    "Feature extractor call latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (p *Prometheus) IncEnrollment(outcome string) {
	p.enrollments.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) AddTemplatesStored(n int) {
	p.templatesStored.Add(float64(n))
}

func (p *Prometheus) IncRecognition(outcome string) {
	p.recognitions.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ObserveMatchScore(score float64) {
	p.matchScore.Observe(score)
}

func (p *Prometheus) ObserveExtractionDuration(d time.Duration) {
	p.extractionDuration.Observe(d.Seconds())
}
