package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		output, err := execCLI(t, "stop", "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "Stop the Commanda gateway daemon")
		assert.Contains(t, output, "timeout")
	})

	t.Run("timeout flag default", func(t *testing.T) {
		flag := findSubcommand(t, "stop").Flags().Lookup("timeout")
		require.NotNil(t, flag)
		assert.Equal(t, "30", flag.DefValue)
	})
}

func TestRunStop(t *testing.T) {
	t.Run("not running is not an error", func(t *testing.T) {
		configPath := writeTestConfig(t, t.TempDir())

		output, err := execCLI(t, "stop", "--config", configPath)
		require.NoError(t, err)
		assert.Contains(t, output, "Daemon is not running")
	})

	t.Run("removes stale pid file", func(t *testing.T) {
		dir := t.TempDir()
		configPath := writeTestConfig(t, dir)

		// PID above the kernel pid_max, so the recorded process is gone.
		pidFile := filepath.Join(dir, "commanda.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("99999999"), 0o644))

		output, err := execCLI(t, "stop", "--config", configPath)
		require.NoError(t, err)
		assert.Contains(t, output, "stale PID file")

		_, err = os.Stat(pidFile)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("garbage pid file is an error", func(t *testing.T) {
		dir := t.TempDir()
		configPath := writeTestConfig(t, dir)

		pidFile := filepath.Join(dir, "commanda.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0o644))

		_, err := execCLI(t, "stop", "--config", configPath)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PID file")
	})
}
