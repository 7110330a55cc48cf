package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDefinitionRequiresNameAndCommand(t *testing.T) {
	_, err := FromDefinition(Definition{Command: "true"}, "x.yml")
	assert.Error(t, err)

	_, err = FromDefinition(Definition{Name: "a"}, "x.yml")
	assert.Error(t, err)
}

func TestExpandVarsDateAndEnv(t *testing.T) {
	t.Setenv("X", "a")
	got, err := expandVars(`${X} $(date +%Y)`)
	require.NoError(t, err)
	year, err := runDate("+%Y")
	require.NoError(t, err)
	assert.Equal(t, "a "+year, got)
}

func TestResolveLogPathDirectoryRule(t *testing.T) {
	dir := t.TempDir()
	got := resolveLogPath(dir, "My Job")
	assert.Equal(t, filepath.Join(dir, "my_job.log"), got)
}

func TestResolveLogPathFileUnchanged(t *testing.T) {
	f := filepath.Join(t.TempDir(), "explicit.log")
	assert.Equal(t, f, resolveLogPath(f, "My Job"))
}

func TestSplitShellWordsQuoting(t *testing.T) {
	words, err := SplitShellWords(`echo "hello world" 'raw $X' a\ b`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hello world", "raw $X", "a b"}, words)
}

func TestSplitShellWordsUnterminatedQuote(t *testing.T) {
	_, err := SplitShellWords(`echo "unterminated`)
	assert.Error(t, err)
}

func TestTaskRunSuccessAndFailure(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "out.log")

	ok := Task{Name: "ok", Command: "true", Log: logFile}
	code, err := ok.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	fail := Task{Name: "fail", Command: "false", Log: logFile}
	code, err = fail.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, code)

	_, statErr := os.Stat(logFile)
	assert.NoError(t, statErr)
}

func TestTaskRunAppendsParameters(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "echo.log")
	tk := Task{Name: "echo", Command: "/bin/echo hello", Parameters: []string{"world"}, Log: logFile}
	code, err := tk.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
}
