package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGradeCalc(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		grade string
	}{
		{"fast and clean", []string{"--seconds", "30", "--expected", "60"}, "5"},
		{"slow but correct", []string{"--seconds", "120", "--expected", "60"}, "3"},
		{"wrong and unsure", []string{"--correct=false", "--confidence", "0.1"}, "0"},
		{"wrong with heavy hints", []string{"--correct=false", "--hints", "3", "--confidence", "0.5"}, "1"},
		{"wrong but close", []string{"--correct=false", "--confidence", "0.6"}, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"grade", "calc"}, tt.args...)...)
			require.NoError(t, err)
			assert.Regexp(t, regexp.MustCompile(`(?m)^grade\s+`+tt.grade+`$`), out)
		})
	}
}

func TestGradeCalc_RejectsBadFlags(t *testing.T) {
	_, err := execute(t, "grade", "calc", "--confidence", "1.5")
	require.Error(t, err)

	_, err = execute(t, "grade", "calc", "--interval", "0")
	require.Error(t, err)
}

func TestTuningDump(t *testing.T) {
	out, err := execute(t, "tuning", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "default_ease: 2.5")
	assert.Contains(t, out, "new_card_ladder:")
}

func TestTuningDump_WithOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("srs:\n  leech_threshold: 5\n"), 0o600))

	out, err := execute(t, "--tuning", path, "tuning", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "leech_threshold: 5")
}

func TestTuningCheck(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("srs:\n  max_ease: 2.8\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("srs:\n  no_such_key: 1\n"), 0o600))

	out, err := execute(t, "tuning", "check", good)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	_, err = execute(t, "tuning", "check", bad)
	require.Error(t, err)
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := execute(t, "migrate", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestMixPreview_RequiresLearner(t *testing.T) {
	_, err := execute(t, "mix", "preview")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--learner")
}

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_DISABLED", "true")
	t.Setenv("CATALOG_FILE", filepath.Join("..", "..", "content", "catalog.yaml"))
	t.Setenv("SCHEDULER_DISABLED_JOBS", "prepare_daily_mix")
}

func TestJobsList(t *testing.T) {
	memoryEnv(t)
	out, err := execute(t, "jobs", "list")
	require.NoError(t, err)

	assert.Contains(t, out, "prune_daily_mixes")
	assert.Contains(t, out, "evaluate_retention_checks")
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "prepare_daily_mix") {
			assert.Regexp(t, `\sfalse\s+-\s`, line)
		}
	}
}

func TestJobsRun(t *testing.T) {
	memoryEnv(t)
	out, err := execute(t, "jobs", "run", "prune_daily_mixes")
	require.NoError(t, err)
	assert.Contains(t, out, "prune_daily_mixes finished in")

	_, err = execute(t, "jobs", "run", "send_reminders")
	assert.ErrorContains(t, err, "job not found")
}

func TestTuningFeatures(t *testing.T) {
	t.Setenv("FEATURE_MIX_INTERLEAVING", "25")
	t.Setenv("FEATURE_MIX_INTERLEAVING_PILOTS", "pilot-1")
	out, err := execute(t, "tuning", "features")
	require.NoError(t, err)
	assert.Regexp(t, `mix\.interleaving\s+25%\s+pilot-1\s+\.\.\s`, out)

	t.Setenv("FEATURE_MIX_INTERLEAVING", "sometimes")
	_, err = execute(t, "tuning", "features")
	assert.ErrorContains(t, err, "FEATURE_MIX_INTERLEAVING")
}
