package kitnet

import (
	"context"
	"time"

	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/correlator"
	zlog "github.com/cardeasec/cardea/logger"
)

// ScoredEvent pairs an enriched event with the anomaly score the detector
// assigned it.
type ScoredEvent struct {
	Event correlator.EnrichedEvent `json:"event"`
	Score float64                  `json:"score"`
}

// Runner owns the detector and drives it from the correlator's event stream.
// Events whose detect-phase score clears the configured threshold are emitted
// on Anomalies for escalation.
type Runner struct {
	Detector  *Detector
	Anomalies chan ScoredEvent

	cfg       *config.Config
	extractor *correlator.Extractor
	in        <-chan correlator.EnrichedEvent
	statsSink func(Snapshot)
}

func NewRunner(cfg *config.Config, detector *Detector, in <-chan correlator.EnrichedEvent) *Runner {
	return &Runner{
		Detector:  detector,
		Anomalies: make(chan ScoredEvent, cfg.Sentry.EventBufferSize),
		cfg:       cfg,
		extractor: correlator.NewExtractor(),
		in:        in,
	}
}

// SetStatsSink registers a callback invoked with a detector snapshot on every
// stats tick. Must be set before Run.
func (r *Runner) SetStatsSink(sink func(Snapshot)) {
	r.statsSink = sink
}

// Run scores events until the input channel closes or the context is
// cancelled, then closes Anomalies.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.Anomalies)

	logger := zlog.GetLogger()
	statsTicker := time.NewTicker(time.Duration(r.cfg.Sentry.Detector.StatsIntervalSeconds) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-statsTicker.C:
			if r.statsSink != nil {
				r.statsSink(r.Detector.Stats())
			}

		case event, ok := <-r.in:
			if !ok {
				return nil
			}

			features, err := r.extractor.Extract(event)
			if err != nil {
				logger.Warn().Err(err).Str("uid", event.UID).Msg("dropping event with bad feature vector")
				continue
			}

			score, err := r.Detector.Score(features)
			if err != nil {
				logger.Warn().Err(err).Str("uid", event.UID).Msg("detector rejected event")
				continue
			}

			if r.Detector.Phase() != PhaseDetect || score < r.cfg.Sentry.Detector.Threshold {
				continue
			}

			select {
			case r.Anomalies <- ScoredEvent{Event: event, Score: score}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
