package metrics

import "github.com/prometheus/client_golang/prometheus"

// Split label values.
const (
	SplitTrain = "train"
	SplitValid = "valid"
	SplitTest  = "test"
)

// Training holds Prometheus metrics for a training session.
type Training struct {
	Loss            *prometheus.GaugeVec
	Accuracy        *prometheus.GaugeVec
	BestValidLoss   prometheus.Gauge
	Epochs          prometheus.Counter
	Batches         *prometheus.CounterVec
	SkippedBatches  *prometheus.CounterVec
	Checkpoints     prometheus.Counter
	EpochDuration   prometheus.Histogram
	UnknownWords    *prometheus.GaugeVec
	PretrainedMatch prometheus.Gauge
}

// NewTraining creates and registers training metrics on the given registry.
func NewTraining(reg prometheus.Registerer) *Training {
	m := &Training{
		Loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch_loss",
			Help:      "Mean loss of the last epoch, by split.",
		}, []string{"split"}),
		Accuracy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch_accuracy",
			Help:      "Mean accuracy of the last epoch, by split.",
		}, []string{"split"}),
		BestValidLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_valid_loss",
			Help:      "Lowest validation loss seen so far.",
		}),
		Epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_total",
			Help:      "Total number of completed epochs.",
		}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of processed batches, by split.",
		}, []string{"split"}),
		SkippedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_batches_total",
			Help:      "Total number of batches skipped after an error, by split.",
		}, []string{"split"}),
		Checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoints written.",
		}),
		EpochDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "epoch_duration_seconds",
			Help:      "Wall time of one train and validation pass in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		UnknownWords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unknown_words",
			Help:      "Words mapped to the unknown token during conversion, by split.",
		}, []string{"split"}),
		PretrainedMatch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pretrained_vocabulary_match",
			Help:      "Vocabulary entries initialized from pretrained vectors.",
		}),
	}

	reg.MustRegister(
		m.Loss, m.Accuracy, m.BestValidLoss, m.Epochs, m.Batches,
		m.SkippedBatches, m.Checkpoints, m.EpochDuration, m.UnknownWords, m.PretrainedMatch,
	)
	return m
}
