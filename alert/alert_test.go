package alert

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeverityFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.99, SeverityCritical},
		{0.95, SeverityCritical},
		{0.949, SeverityHigh},
		{0.80, SeverityHigh},
		{0.79, SeverityMedium},
		{0.60, SeverityMedium},
		{0.59, SeverityLow},
		{0, SeverityLow},
	}
	for _, test := range tests {
		require.Equal(t, test.want, SeverityFromScore(test.score), "score %v", test.score)
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	require.Less(t, SeverityRank(SeverityLow), SeverityRank(SeverityMedium))
	require.Less(t, SeverityRank(SeverityMedium), SeverityRank(SeverityHigh))
	require.Less(t, SeverityRank(SeverityHigh), SeverityRank(SeverityCritical))
	require.Equal(t, -1, SeverityRank("bogus"))
}

func TestIsActionable(t *testing.T) {
	require.True(t, IsActionable(SeverityCritical))
	require.True(t, IsActionable(SeverityHigh))
	require.False(t, IsActionable(SeverityMedium))
	require.False(t, IsActionable(SeverityLow))
	require.False(t, IsActionable(""))
}

func TestNewFillsIdentity(t *testing.T) {
	a := New("kitnet", TypeNetworkAnomaly, SeverityHigh, "anomaly", "suspicious flow")
	require.NotEmpty(t, a.ID)
	require.False(t, a.Timestamp.IsZero())
	require.Equal(t, a.Timestamp, a.CreatedAt)
	require.Nil(t, a.ThreatScore)
	require.Nil(t, a.ProcessedAt)

	b := New("kitnet", TypeNetworkAnomaly, SeverityHigh, "anomaly", "suspicious flow")
	require.NotEqual(t, a.ID, b.ID)
}
