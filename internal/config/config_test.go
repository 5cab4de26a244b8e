package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teslashibe/go-bonbon/pkg/animation"
)

const sampleOptions = `
device:
  address: 192.168.1.42
  port: 8000
  camera_timeout: 1500ms
servos:
  ranges:
    neck-y: {min: 500, max: 2500}
    jaw: {min: 0, max: 180}
  default_pose:
    neck-y: 50
    jaw: 0
animation:
  search: look-around
  reactions: [wave, shrug]
`

func writeOptions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpenMergesDefaults(t *testing.T) {
	t.Setenv(EnvDeviceAddress, "")
	s, err := Open(writeOptions(t, sampleOptions))
	require.NoError(t, err)

	opts := s.Get()
	assert.Equal(t, "192.168.1.42", opts.Device.Address)
	assert.Equal(t, 8000, opts.Device.Port)
	assert.Equal(t, 1500*time.Millisecond, opts.Device.CameraTimeout)
	assert.Equal(t, 3*time.Second, opts.Device.ReconnectDelay, "unset values keep their default")
	assert.Equal(t, 31415, opts.Operator.Port)
	assert.Equal(t, []string{"wave", "shrug"}, opts.Animation.Reactions)

	ranges, err := opts.ServoRanges()
	require.NoError(t, err)
	assert.Equal(t, animation.Range{Min: 500, Max: 2500}, ranges[animation.NeckY])

	pose, err := opts.DefaultPose()
	require.NoError(t, err)
	v, _ := pose.Get(animation.NeckY).Float()
	assert.Equal(t, 1500.0, v)
	assert.Equal(t, animation.NewSet(animation.NeckY, animation.Jaw), pose.Specified())
}

func TestOpenMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvDeviceAddress, "")
	s, err := Open(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s.Get())
}

func TestEnvOverridesAddress(t *testing.T) {
	t.Setenv(EnvDeviceAddress, "10.0.0.7")
	s, err := Open(writeOptions(t, sampleOptions))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", s.Get().Device.Address)
}

func TestOptionsPath(t *testing.T) {
	t.Setenv(EnvOptionsPath, "")
	assert.Equal(t, DefaultOptionsPath, OptionsPath(DefaultOptionsPath))

	t.Setenv(EnvOptionsPath, "/etc/bonbon.yaml")
	assert.Equal(t, "/etc/bonbon.yaml", OptionsPath(DefaultOptionsPath))
}

func TestInvalidOptions(t *testing.T) {
	t.Setenv(EnvDeviceAddress, "")
	tests := []struct {
		name    string
		content string
	}{
		{"unknown channel", "servos:\n  ranges:\n    tail: {min: 0, max: 1}\n"},
		{"pose without range", "servos:\n  default_pose:\n    jaw: 10\n"},
		{"bad port", "device:\n  port: 0\n"},
		{"bad score", "detector:\n  min_score: 3\n"},
		{"no search", "animation:\n  search: \"\"\n"},
		{"no reactions", "animation:\n  reactions: []\n"},
		{"blank reaction", "animation:\n  reactions: [wave, \"\"]\n"},
		{"not yaml", "device: [\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(writeOptions(t, tc.content))
			assert.True(t, errors.Is(err, ErrInvalidOptions), "got %v", err)
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Setenv(EnvDeviceAddress, "")
	s, err := Open(writeOptions(t, sampleOptions))
	require.NoError(t, err)

	opts := s.Get()
	opts.Animation.Reactions[0] = "changed"
	opts.Servos.Ranges["jaw"] = animation.Range{Min: 1, Max: 2}

	fresh := s.Get()
	assert.Equal(t, "wave", fresh.Animation.Reactions[0])
	assert.Equal(t, animation.Range{Min: 0, Max: 180}, fresh.Servos.Ranges["jaw"])
}

func TestSetDeviceAddressPersists(t *testing.T) {
	t.Setenv(EnvDeviceAddress, "")
	path := writeOptions(t, sampleOptions)
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, s.SetDeviceAddress("192.168.1.99"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.99", reopened.Get().Device.Address)
	assert.Equal(t, 1500*time.Millisecond, reopened.Get().Device.CameraTimeout)
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	t.Setenv(EnvDeviceAddress, "")
	path := writeOptions(t, sampleOptions)
	s, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("device: [\n"), 0o644))
	assert.Error(t, s.Reload())
	assert.Equal(t, "192.168.1.42", s.Get().Device.Address)
}
