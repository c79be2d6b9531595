package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyonishi/commanda-sub001/internal/metrics"
	"github.com/tyonishi/commanda-sub001/pkg/dispatcher"
	"github.com/tyonishi/commanda-sub001/pkg/policy"
	"github.com/tyonishi/commanda-sub001/pkg/process"
	"github.com/tyonishi/commanda-sub001/pkg/secrets"
)

func newCoreToolsDispatcher(t *testing.T, maxRead int64) *dispatcher.Dispatcher {
	t.Helper()
	tmpDir := t.TempDir()

	store := secrets.New(
		zerolog.Nop(),
		filepath.Join(tmpDir, "secrets.json"),
		secrets.NewAESGCMProtector(filepath.Join(tmpDir, "secrets.key")),
	)

	d := dispatcher.New(zerolog.Nop())
	err := RegisterCoreTools(d, Options{
		Policy:      policy.NewEvaluator(),
		Processes:   process.NewManager(process.Config{}, zerolog.Nop()),
		Secrets:     store,
		MaxReadSize: maxRead,
	})
	require.NoError(t, err)

	return d
}

func execute(t *testing.T, d *dispatcher.Dispatcher, tool string, args map[string]interface{}) dispatcher.Result {
	t.Helper()
	return d.Execute(context.Background(), dispatcher.Request{Tool: tool, Arguments: args})
}

func TestRegisterCoreTools(t *testing.T) {
	t.Run("registers the full built-in surface", func(t *testing.T) {
		d := newCoreToolsDispatcher(t, 0)

		expected := []string{
			"read_text_file", "write_text_file", "list_directory",
			"launch_application", "terminate_process", "list_processes",
			"store_secret", "retrieve_secret", "delete_secret", "list_secret_keys",
		}
		names := d.ListTools()
		for _, name := range expected {
			assert.Contains(t, names, name)
		}
		assert.Equal(t, len(expected), d.ToolCount())
	})

	t.Run("requires collaborators", func(t *testing.T) {
		d := dispatcher.New(zerolog.Nop())

		err := RegisterCoreTools(nil, Options{})
		assert.ErrorContains(t, err, "dispatcher")

		err = RegisterCoreTools(d, Options{})
		assert.ErrorContains(t, err, "policy")
	})
}

func TestWriteTextFileDeniedOnSystemPaths(t *testing.T) {
	d := newCoreToolsDispatcher(t, 0)

	tests := []struct {
		name string
		path string
	}{
		{"windows system directory", `C:\Windows\System32\x.txt`},
		{"program files", `C:\Program Files\app\config.ini`},
		{"etc", "/etc/passwd"},
		{"usr", "/usr/bin/something"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := execute(t, d, "write_text_file", map[string]interface{}{
				"path":    tt.path,
				"content": "x",
			})

			assert.Equal(t, dispatcher.StateDenied, result.State)
			assert.False(t, result.Success)
			assert.Contains(t, result.Error, "system path")
		})
	}

	t.Run("similarly named sibling is allowed", func(t *testing.T) {
		// /etcetera shares the /etc prefix but is not under it.
		_, denied := deniedSystemPath("/etcetera/notes.txt")
		assert.False(t, denied)
	})
}

func TestWriteAndReadTextFile(t *testing.T) {
	d := newCoreToolsDispatcher(t, 0)
	target := filepath.Join(t.TempDir(), "nested", "note.txt")

	writeResult := execute(t, d, "write_text_file", map[string]interface{}{
		"path":    target,
		"content": "hello from commanda",
	})
	require.Equal(t, dispatcher.StateCompleted, writeResult.State)
	require.True(t, writeResult.Success)

	readResult := execute(t, d, "read_text_file", map[string]interface{}{
		"path": target,
	})
	require.Equal(t, dispatcher.StateCompleted, readResult.State)

	output, ok := readResult.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hello from commanda", output["content"])
	assert.Equal(t, "utf-8", output["encoding"])
}

func TestWriteTextFileBackup(t *testing.T) {
	d := newCoreToolsDispatcher(t, 0)
	target := filepath.Join(t.TempDir(), "note.txt")

	first := execute(t, d, "write_text_file", map[string]interface{}{
		"path":    target,
		"content": "first version",
	})
	require.True(t, first.Success)
	// First write had nothing to back up.
	_, err := os.Stat(target + ".backup")
	assert.True(t, os.IsNotExist(err))

	second := execute(t, d, "write_text_file", map[string]interface{}{
		"path":    target,
		"content": "second version",
	})
	require.True(t, second.Success)

	backup, err := os.ReadFile(target + ".backup")
	require.NoError(t, err)
	assert.Equal(t, "first version", string(backup))

	t.Run("backup can be disabled", func(t *testing.T) {
		noBackupTarget := filepath.Join(t.TempDir(), "plain.txt")
		require.NoError(t, os.WriteFile(noBackupTarget, []byte("previous"), 0o644))

		result := execute(t, d, "write_text_file", map[string]interface{}{
			"path":    noBackupTarget,
			"content": "replaced",
			"backup":  false,
		})
		require.True(t, result.Success)

		_, err := os.Stat(noBackupTarget + ".backup")
		assert.True(t, os.IsNotExist(err))
	})
}

func TestReadTextFileSizeLimit(t *testing.T) {
	d := newCoreToolsDispatcher(t, 128)
	target := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(target, []byte(strings.Repeat("a", 256)), 0o644))

	result := execute(t, d, "read_text_file", map[string]interface{}{
		"path": target,
	})

	assert.Equal(t, dispatcher.StateDenied, result.State)
	assert.Contains(t, result.Error, "maximum read size")

	t.Run("file within the limit reads fine", func(t *testing.T) {
		small := filepath.Join(t.TempDir(), "small.txt")
		require.NoError(t, os.WriteFile(small, []byte("ok"), 0o644))

		result := execute(t, d, "read_text_file", map[string]interface{}{
			"path": small,
		})
		assert.Equal(t, dispatcher.StateCompleted, result.State)
	})
}

func TestReadTextFileEncodings(t *testing.T) {
	d := newCoreToolsDispatcher(t, 0)

	t.Run("named single byte encoding", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "latin1.txt")
		// "café" with é as the ISO-8859-1 single byte 0xE9.
		require.NoError(t, os.WriteFile(target, []byte{'c', 'a', 'f', 0xE9}, 0o644))

		result := execute(t, d, "read_text_file", map[string]interface{}{
			"path":     target,
			"encoding": "ISO-8859-1",
		})
		require.Equal(t, dispatcher.StateCompleted, result.State)

		output := result.Output.(map[string]interface{})
		assert.Equal(t, "café", output["content"])
		assert.Equal(t, "ISO-8859-1", output["encoding"])
	})

	t.Run("unknown encoding faults the call", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "plain.txt")
		require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

		result := execute(t, d, "read_text_file", map[string]interface{}{
			"path":     target,
			"encoding": "klingon-8",
		})
		assert.Equal(t, dispatcher.StateFaulted, result.State)
		assert.Contains(t, result.Error, "unknown encoding")
	})

	t.Run("missing file faults the call", func(t *testing.T) {
		result := execute(t, d, "read_text_file", map[string]interface{}{
			"path": filepath.Join(t.TempDir(), "absent.txt"),
		})
		assert.Equal(t, dispatcher.StateFaulted, result.State)
	})
}

func TestLaunchApplicationDenied(t *testing.T) {
	d := newCoreToolsDispatcher(t, 0)

	tests := []struct {
		name   string
		path   string
		args   string
		reason string
	}{
		{"destructive signature through shell", "cmd.exe", "/c format C: /y", "destructive signature"},
		{"blocked executable", "mkfs.ext4", "/dev/sda1", "blocked list"},
		{"shell restricted argument", "powershell.exe", "Start-Process diskpart", "restricted operation"},
		{"unix shell restricted argument", "bash", "-c 'useradd mallory'", "restricted operation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := execute(t, d, "launch_application", map[string]interface{}{
				"path":      tt.path,
				"arguments": tt.args,
			})

			assert.Equal(t, dispatcher.StateDenied, result.State)
			assert.False(t, result.Success)
			assert.Contains(t, result.Error, tt.reason)
		})
	}
}

func TestListDirectory(t *testing.T) {
	d := newCoreToolsDispatcher(t, 0)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("aa"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	result := execute(t, d, "list_directory", map[string]interface{}{
		"path": dir,
	})
	require.Equal(t, dispatcher.StateCompleted, result.State)

	output := result.Output.(map[string]interface{})
	assert.Equal(t, 2, output["count"])

	entries := output["entries"].([]map[string]interface{})
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry["name"].(string))
	}
	assert.ElementsMatch(t, []string{"a.txt", "sub"}, names)
}

func TestSecretToolsRoundTrip(t *testing.T) {
	d := newCoreToolsDispatcher(t, 0)

	stored := execute(t, d, "store_secret", map[string]interface{}{
		"key":   "api_token",
		"value": "hunter2",
	})
	require.Equal(t, dispatcher.StateCompleted, stored.State)

	retrieved := execute(t, d, "retrieve_secret", map[string]interface{}{
		"key": "api_token",
	})
	require.Equal(t, dispatcher.StateCompleted, retrieved.State)
	output := retrieved.Output.(map[string]interface{})
	assert.Equal(t, "hunter2", output["value"])

	keys := execute(t, d, "list_secret_keys", map[string]interface{}{})
	require.Equal(t, dispatcher.StateCompleted, keys.State)
	keysOutput := keys.Output.(map[string]interface{})
	assert.Equal(t, []string{"api_token"}, keysOutput["keys"])

	deleted := execute(t, d, "delete_secret", map[string]interface{}{
		"key": "api_token",
	})
	require.Equal(t, dispatcher.StateCompleted, deleted.State)
	assert.Equal(t, true, deleted.Output.(map[string]interface{})["deleted"])

	missing := execute(t, d, "retrieve_secret", map[string]interface{}{
		"key": "api_token",
	})
	assert.Equal(t, dispatcher.StateFaulted, missing.State)
	assert.Contains(t, missing.Error, "secret not found")
}

func TestTerminateProcessArguments(t *testing.T) {
	d := newCoreToolsDispatcher(t, 0)

	t.Run("non numeric pid rejected by schema", func(t *testing.T) {
		result := execute(t, d, "terminate_process", map[string]interface{}{
			"pid": "not-a-number",
		})
		assert.Equal(t, dispatcher.StateDenied, result.State)
		assert.Contains(t, result.Error, "invalid arguments")
	})

	t.Run("negative pid faults", func(t *testing.T) {
		result := execute(t, d, "terminate_process", map[string]interface{}{
			"pid": float64(-1),
		})
		assert.Equal(t, dispatcher.StateFaulted, result.State)
	})

	t.Run("nonexistent pid faults", func(t *testing.T) {
		result := execute(t, d, "terminate_process", map[string]interface{}{
			"pid": float64(2147480000),
		})
		assert.Equal(t, dispatcher.StateFaulted, result.State)
		assert.False(t, result.Success)
	})
}

func TestPIDArgumentShapes(t *testing.T) {
	pid, err := pidArgument(float64(42))
	require.NoError(t, err)
	assert.Equal(t, int32(42), pid)

	pid, err = pidArgument(7)
	require.NoError(t, err)
	assert.Equal(t, int32(7), pid)

	_, err = pidArgument("42")
	assert.Error(t, err)
}

func TestListProcesses(t *testing.T) {
	d := newCoreToolsDispatcher(t, 0)

	result := execute(t, d, "list_processes", map[string]interface{}{})
	require.Equal(t, dispatcher.StateCompleted, result.State)

	output := result.Output.(map[string]interface{})
	processes := output["processes"].([]map[string]interface{})
	assert.Greater(t, len(processes), 0, "the test process itself should be listed")
}

func counterValue(t *testing.T, m *metrics.Metrics, family, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if *mf.Name != family {
			continue
		}
		for _, metric := range mf.Metric {
			for _, pair := range metric.Label {
				if *pair.Value == label {
					return *metric.Counter.Value
				}
			}
		}
	}
	return 0
}

func TestToolMetricsCounted(t *testing.T) {
	tmpDir := t.TempDir()
	store := secrets.New(
		zerolog.Nop(),
		filepath.Join(tmpDir, "secrets.json"),
		secrets.NewAESGCMProtector(filepath.Join(tmpDir, "secrets.key")),
	)

	m := metrics.NewMetrics()
	d := dispatcher.New(zerolog.Nop())
	err := RegisterCoreTools(d, Options{
		Policy:    policy.NewEvaluator(),
		Processes: process.NewManager(process.Config{}, zerolog.Nop()),
		Secrets:   store,
		Metrics:   m,
	})
	require.NoError(t, err)

	stored := execute(t, d, "store_secret", map[string]interface{}{
		"key":   "token",
		"value": "v",
	})
	require.True(t, stored.Success)

	keys := execute(t, d, "list_secret_keys", map[string]interface{}{})
	require.True(t, keys.Success)

	gone := execute(t, d, "terminate_process", map[string]interface{}{
		"pid": float64(2147480000),
	})
	require.False(t, gone.Success)

	assert.Equal(t, float64(1), counterValue(t, m, "secret_ops_total", "store"))
	assert.Equal(t, float64(1), counterValue(t, m, "secret_ops_total", "list"))
	assert.Equal(t, float64(1), counterValue(t, m, "process_terminations_total", "not_found"))
}
