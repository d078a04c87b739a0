package kitnet

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/cardeasec/cardea/config"
	zlog "github.com/cardeasec/cardea/logger"
	jsoniter "github.com/json-iterator/go"
	"github.com/montanaflynn/stats"
	"github.com/spf13/afero"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Phase is the detector lifecycle stage
type Phase string

const (
	PhaseCalibrate Phase = "calibrate"
	PhaseTrain     Phase = "train"
	PhaseDetect    Phase = "detect"
)

// score normalization divisors
const (
	trainLossDivisor  = 10
	detectMSEDivisor  = 5
	minGroupSize      = 2
	minGroupWidth     = 3
	groupWidthDivisor = 3
)

// Detector scores feature vectors with an ensemble of autoencoders over
// overlapping feature slices. It is single-owner state: exactly one task may
// call Score.
type Detector struct {
	cfg *config.Config
	afs afero.Fs
	rng *rand.Rand

	phase    Phase
	dim      int
	encoders []*autoencoder
	std      *standardizer

	trainedSamples int64
	lossSum        float64

	eventsProcessed int64
	recentScores    []float64
	windowSize      int
}

// model is the persisted detector state
type model struct {
	Dim            int            `json:"dim"`
	Encoders       []*autoencoder `json:"encoders"`
	Standardizer   *standardizer  `json:"standardizer"`
	TrainedSamples int64          `json:"trained_samples"`
	Threshold      float64        `json:"threshold"`
	SavedAt        time.Time      `json:"saved_at"`
}

// NewDetector creates a detector in CALIBRATE, or in DETECT if a previously
// persisted model loads cleanly from the configured path.
func NewDetector(afs afero.Fs, cfg *config.Config) *Detector {
	detector := &Detector{
		cfg:        cfg,
		afs:        afs,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		phase:      PhaseCalibrate,
		windowSize: int(cfg.Sentry.Detector.ScoreWindowSize),
	}

	if err := detector.loadModel(); err == nil {
		detector.phase = PhaseDetect
		logger := zlog.GetLogger()
		logger.Info().
			Int("dim", detector.dim).
			Int("encoders", len(detector.encoders)).
			Int64("trained_samples", detector.trainedSamples).
			Msg("loaded persisted detector model, starting in detect phase")
	}

	return detector
}

// Phase reports the current lifecycle stage
func (d *Detector) Phase() Phase {
	return d.phase
}

// Score consumes one feature vector and returns a normalized anomaly score in
// [0,1]. The first vector fixes the dimension; later vectors of a different
// width are rejected.
func (d *Detector) Score(features []float64) (float64, error) {
	if d.phase == PhaseCalibrate {
		d.calibrate(len(features))
	}
	if len(features) != d.dim {
		return 0, fmt.Errorf("feature vector width %d does not match calibrated width %d", len(features), d.dim)
	}
	d.eventsProcessed++

	switch d.phase {
	case PhaseTrain:
		return d.trainOne(features)
	case PhaseDetect:
		return d.detectOne(features), nil
	default:
		return 0, fmt.Errorf("detector in unexpected phase %q", d.phase)
	}
}

// calibrate fixes the dimension, partitions the feature indices into
// overlapping slices, and builds one autoencoder per slice.
func (d *Detector) calibrate(dim int) {
	d.dim = dim
	d.std = newStandardizer(dim)
	d.encoders = nil

	for _, group := range partitionFeatures(dim) {
		d.encoders = append(d.encoders, newAutoencoder(group, d.rng))
	}
	d.phase = PhaseTrain

	logger := zlog.GetLogger()
	logger.Info().
		Int("dim", dim).
		Int("encoders", len(d.encoders)).
		Int32("training_cap", d.cfg.Sentry.Detector.TrainingSampleCap).
		Msg("detector calibrated, entering training phase")
}

// partitionFeatures slides a window of width max(3, dim/3) across the index
// space with half-width stride. Trailing windows narrower than two indices
// are dropped; if nothing qualifies, a single group covers everything.
func partitionFeatures(dim int) [][]int {
	width := dim / groupWidthDivisor
	if width < minGroupWidth {
		width = minGroupWidth
	}
	stride := width / 2
	if stride < 1 {
		stride = 1
	}

	var groups [][]int
	for start := 0; start < dim; start += stride {
		end := start + width
		if end > dim {
			end = dim
		}
		if end-start < minGroupSize {
			continue
		}
		group := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			group = append(group, i)
		}
		groups = append(groups, group)
	}

	if len(groups) == 0 {
		group := make([]int, dim)
		for i := range group {
			group[i] = i
		}
		groups = [][]int{group}
	}
	return groups
}

func (d *Detector) trainOne(features []float64) (float64, error) {
	d.std.partialFit(features)
	standardized := d.std.transform(features)

	var lossTotal float64
	for _, encoder := range d.encoders {
		lossTotal += encoder.trainStep(encoder.slice(standardized))
	}
	avgLoss := lossTotal / float64(len(d.encoders))
	d.lossSum += avgLoss
	d.trainedSamples++

	if d.trainedSamples >= int64(d.cfg.Sentry.Detector.TrainingSampleCap) {
		logger := zlog.GetLogger()
		if err := d.persistModel(); err != nil {
			logger.Warn().Err(err).Msg("could not persist detector model, continuing to detect phase")
		}
		d.phase = PhaseDetect
		logger.Info().
			Int64("samples", d.trainedSamples).
			Float64("avg_training_loss", d.lossSum/float64(d.trainedSamples)).
			Msg("detector training complete, entering detect phase")
	}

	return clampScore(avgLoss / trainLossDivisor), nil
}

func (d *Detector) detectOne(features []float64) float64 {
	standardized := d.std.transform(features)

	var maxError float64
	for _, encoder := range d.encoders {
		if mse := encoder.reconstructionError(encoder.slice(standardized)); mse > maxError {
			maxError = mse
		}
	}
	score := clampScore(maxError / detectMSEDivisor)

	d.recentScores = append(d.recentScores, score)
	if len(d.recentScores) > d.windowSize {
		d.recentScores = d.recentScores[len(d.recentScores)-d.windowSize:]
	}
	return score
}

func clampScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// persistModel atomically replaces the model file: write to a temp file in
// the same directory, then rename.
func (d *Detector) persistModel() error {
	path := d.cfg.Sentry.Detector.ModelPath
	if err := d.afs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(model{
		Dim:            d.dim,
		Encoders:       d.encoders,
		Standardizer:   d.std,
		TrainedSamples: d.trainedSamples,
		Threshold:      d.cfg.Sentry.Detector.Threshold,
		SavedAt:        time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(d.afs, tmpPath, data, 0o644); err != nil {
		return err
	}
	return d.afs.Rename(tmpPath, path)
}

func (d *Detector) loadModel() error {
	data, err := afero.ReadFile(d.afs, d.cfg.Sentry.Detector.ModelPath)
	if err != nil {
		return err
	}

	var m model
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("unmarshalling detector model: %w", err)
	}
	if m.Dim < 1 || len(m.Encoders) == 0 || m.Standardizer == nil {
		return fmt.Errorf("detector model at %s is incomplete", d.cfg.Sentry.Detector.ModelPath)
	}

	d.dim = m.Dim
	d.encoders = m.Encoders
	d.std = m.Standardizer
	d.trainedSamples = m.TrainedSamples
	return nil
}

// Snapshot is a point-in-time view of detector health for the local stats
// surface.
type Snapshot struct {
	Phase           Phase   `json:"phase"`
	Dim             int     `json:"dim"`
	Encoders        int     `json:"encoders"`
	TrainedSamples  int64   `json:"trained_samples"`
	EventsProcessed int64   `json:"events_processed"`
	Threshold       float64 `json:"threshold"`
	RecentScoreMean float64 `json:"recent_score_mean"`
	RecentScoreP95  float64 `json:"recent_score_p95"`
	RecentScoreMax  float64 `json:"recent_score_max"`
	RecentAnomalies int     `json:"recent_anomalies"`
	Timestamp       string  `json:"timestamp"`
}

// Stats summarizes the recent-score window. Must be called from the owning
// task.
func (d *Detector) Stats() Snapshot {
	snapshot := Snapshot{
		Phase:           d.phase,
		Dim:             d.dim,
		Encoders:        len(d.encoders),
		TrainedSamples:  d.trainedSamples,
		EventsProcessed: d.eventsProcessed,
		Threshold:       d.cfg.Sentry.Detector.Threshold,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}

	if len(d.recentScores) > 0 {
		if mean, err := stats.Mean(d.recentScores); err == nil {
			snapshot.RecentScoreMean = mean
		}
		if p95, err := stats.Percentile(d.recentScores, 95); err == nil {
			snapshot.RecentScoreP95 = p95
		}
		if max, err := stats.Max(d.recentScores); err == nil {
			snapshot.RecentScoreMax = max
		}
		for _, score := range d.recentScores {
			if score >= d.cfg.Sentry.Detector.Threshold {
				snapshot.RecentAnomalies++
			}
		}
	}
	return snapshot
}
