package kitnet

import (
	"math/rand"
	"testing"

	"github.com/cardeasec/cardea/config"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.GetDefaultConfig()
	cfg.Sentry.Detector.TrainingSampleCap = 100
	cfg.Sentry.Detector.ModelPath = "/tmp/kitnet_model.json"
	return &cfg
}

// syntheticVector produces a mildly noisy 17-wide vector resembling benign
// traffic.
func syntheticVector(rng *rand.Rand) []float64 {
	base := []float64{
		500, 1500, 2.5, 44000, 443, 3.2e9, 1.7e8, 6, 10, 12,
		0.5, 0.5, 0.5, 0.3, 0.15, 0.01, 0.002,
	}
	vector := make([]float64, len(base))
	for i, v := range base {
		vector[i] = v * (1 + rng.Float64()*0.1)
	}
	return vector
}

func TestPartitionFeatures(t *testing.T) {
	groups := partitionFeatures(17)
	require.NotEmpty(t, groups)

	covered := make(map[int]bool)
	for _, group := range groups {
		require.GreaterOrEqual(t, len(group), 2)
		require.LessOrEqual(t, len(group), 5) // max(3, 17/3) = 5
		for _, idx := range group {
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, 17)
			covered[idx] = true
		}
	}
	require.Len(t, covered, 17, "every feature index must belong to a group")
}

func TestPartitionFeaturesSmallDimensions(t *testing.T) {
	for dim := 2; dim <= 6; dim++ {
		groups := partitionFeatures(dim)
		require.NotEmpty(t, groups, "dim %d", dim)
		covered := make(map[int]bool)
		for _, group := range groups {
			for _, idx := range group {
				covered[idx] = true
			}
		}
		require.Len(t, covered, dim, "dim %d", dim)
	}
}

func TestDetectorPhaseTransitions(t *testing.T) {
	cfg := newTestConfig(t)
	afs := afero.NewMemMapFs()
	detector := NewDetector(afs, cfg)
	require.Equal(t, PhaseCalibrate, detector.Phase())

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		score, err := detector.Score(syntheticVector(rng))
		require.NoError(t, err)
		require.GreaterOrEqual(t, score, 0.0)
		require.LessOrEqual(t, score, 1.0)
	}
	require.Equal(t, PhaseDetect, detector.Phase())

	// model persisted at the train->detect transition
	exists, err := afero.Exists(afs, cfg.Sentry.Detector.ModelPath)
	require.NoError(t, err)
	require.True(t, exists)

	// post-transition events produce bounded detect-phase scores
	score, err := detector.Score(syntheticVector(rng))
	require.NoError(t, err)
	require.GreaterOrEqual(t, score, 0.0)
	require.LessOrEqual(t, score, 1.0)
}

func TestDetectorRejectsDimensionChange(t *testing.T) {
	cfg := newTestConfig(t)
	detector := NewDetector(afero.NewMemMapFs(), cfg)

	rng := rand.New(rand.NewSource(1))
	_, err := detector.Score(syntheticVector(rng))
	require.NoError(t, err)

	_, err = detector.Score([]float64{1, 2, 3})
	require.Error(t, err)
}

func TestDetectorOutlierScoresHigherThanBaseline(t *testing.T) {
	cfg := newTestConfig(t)
	detector := NewDetector(afero.NewMemMapFs(), cfg)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		_, err := detector.Score(syntheticVector(rng))
		require.NoError(t, err)
	}
	require.Equal(t, PhaseDetect, detector.Phase())

	baseline, err := detector.Score(syntheticVector(rng))
	require.NoError(t, err)

	outlier := make([]float64, 17)
	for i := range outlier {
		outlier[i] = 1e9
	}
	anomalous, err := detector.Score(outlier)
	require.NoError(t, err)
	require.Greater(t, anomalous, baseline)
}

func TestModelPersistenceRoundTrip(t *testing.T) {
	cfg := newTestConfig(t)
	afs := afero.NewMemMapFs()

	trained := NewDetector(afs, cfg)
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 100; i++ {
		_, err := trained.Score(syntheticVector(rng))
		require.NoError(t, err)
	}
	require.Equal(t, PhaseDetect, trained.Phase())

	probe := syntheticVector(rng)
	wantScore, err := trained.Score(probe)
	require.NoError(t, err)

	// a fresh detector over the same filesystem starts in detect and scores
	// identically
	reloaded := NewDetector(afs, cfg)
	require.Equal(t, PhaseDetect, reloaded.Phase())
	gotScore, err := reloaded.Score(probe)
	require.NoError(t, err)
	require.InDelta(t, wantScore, gotScore, 1e-12)
}

func TestDetectorIgnoresCorruptModelFile(t *testing.T) {
	cfg := newTestConfig(t)
	afs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(afs, cfg.Sentry.Detector.ModelPath, []byte("{not json"), 0o644))

	detector := NewDetector(afs, cfg)
	require.Equal(t, PhaseCalibrate, detector.Phase())
}

func TestDetectScoreIsNormalizedMaxMSE(t *testing.T) {
	cfg := newTestConfig(t)
	detector := NewDetector(afero.NewMemMapFs(), cfg)

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		_, err := detector.Score(syntheticVector(rng))
		require.NoError(t, err)
	}

	probe := syntheticVector(rng)
	standardized := detector.std.transform(probe)
	var maxMSE float64
	for _, encoder := range detector.encoders {
		if mse := encoder.reconstructionError(encoder.slice(standardized)); mse > maxMSE {
			maxMSE = mse
		}
	}
	want := maxMSE / detectMSEDivisor
	if want > 1 {
		want = 1
	}

	got, err := detector.Score(probe)
	require.NoError(t, err)
	require.InDelta(t, want, got, 1e-12)
}

func TestStatsSnapshot(t *testing.T) {
	cfg := newTestConfig(t)
	detector := NewDetector(afero.NewMemMapFs(), cfg)

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 110; i++ {
		_, err := detector.Score(syntheticVector(rng))
		require.NoError(t, err)
	}

	snapshot := detector.Stats()
	require.Equal(t, PhaseDetect, snapshot.Phase)
	require.Equal(t, 17, snapshot.Dim)
	require.Equal(t, int64(100), snapshot.TrainedSamples)
	require.Equal(t, int64(110), snapshot.EventsProcessed)
	require.GreaterOrEqual(t, snapshot.RecentScoreP95, snapshot.RecentScoreMean)
	require.GreaterOrEqual(t, snapshot.RecentScoreMax, snapshot.RecentScoreP95)
}

func TestAutoencoderTrainingReducesLoss(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	indices := []int{0, 1, 2, 3, 4}
	encoder := newAutoencoder(indices, rng)

	sample := []float64{0.1, -0.2, 0.3, 0.05, -0.15}
	first := encoder.trainStep(sample)
	var last float64
	for i := 0; i < 500; i++ {
		last = encoder.trainStep(sample)
	}
	require.Less(t, last, first)
}
