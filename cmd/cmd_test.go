package cmd

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigPath(t *testing.T) {
	afs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(afs, "/etc/cardea/config.hjson", []byte("{}"), 0o644))

	require.NoError(t, ValidateConfigPath(afs, "/etc/cardea/config.hjson"))
	require.Error(t, ValidateConfigPath(afs, "/etc/cardea/missing.hjson"))
	require.ErrorIs(t, ValidateConfigPath(afs, ""), ErrMissingConfigPath)
}

func TestRunValidateConfigCommand(t *testing.T) {
	afs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(afs, "/etc/cardea/config.hjson", []byte(`{
		sentry: {
			sensor_id: "sentry-lab"
		}
	}`), 0o644))

	cfg, err := RunValidateConfigCommand(afs, "/etc/cardea/config.hjson")
	require.NoError(t, err)
	require.Equal(t, "sentry-lab", cfg.Sentry.SensorID)
}

func TestRunValidateConfigCommandRejectsBadValues(t *testing.T) {
	afs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(afs, "/etc/cardea/config.hjson", []byte(`{
		oracle: {
			rate_limit_per_minute: -5
		}
	}`), 0o644))

	_, err := RunValidateConfigCommand(afs, "/etc/cardea/config.hjson")
	require.Error(t, err)
}
