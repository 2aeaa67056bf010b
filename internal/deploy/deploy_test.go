// ABOUTME: Tests for the file deployer
// ABOUTME: Covers file contents, backups and reload success, failure and timeout

package deploy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smokingpi/smokeadmin/internal/store"
	"github.com/smokingpi/smokeadmin/internal/synth"
)

var rendered = synth.Rendered{
	Targets: "*** Targets ***\n",
	Probes:  "*** Probes ***\n",
}

func TestDeploy_WritesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "config.d")

	out, err := NewFileDeployer(dir).Deploy(context.Background(), rendered)
	require.NoError(t, err)
	assert.NotEmpty(t, out.DeploymentID)
	assert.False(t, out.Reloaded)

	got, err := os.ReadFile(filepath.Join(dir, TargetsFileName))
	require.NoError(t, err)
	assert.Equal(t, rendered.Targets, string(got))
	got, err = os.ReadFile(filepath.Join(dir, ProbesFileName))
	require.NoError(t, err)
	assert.Equal(t, rendered.Probes, string(got))
}

func TestDeploy_BacksUpPrevious(t *testing.T) {
	dir := t.TempDir()
	tick := time.Unix(1700000000, 0)
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	d := NewFileDeployer(dir, WithClock(clock), WithBackupRetention(2))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := d.Deploy(ctx, rendered)
		require.NoError(t, err)
	}
	backups, err := store.ListBackups(filepath.Join(dir, TargetsFileName))
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestDeploy_Reload(t *testing.T) {
	out, err := NewFileDeployer(t.TempDir(), WithReloadCommand([]string{"echo", "reloaded"}, time.Second)).
		Deploy(context.Background(), rendered)
	require.NoError(t, err)
	assert.True(t, out.Reloaded)
	assert.Equal(t, "reloaded", out.ReloadOutput)
}

func TestDeploy_ReloadFailure(t *testing.T) {
	dir := t.TempDir()
	out, err := NewFileDeployer(dir, WithReloadCommand([]string{"false"}, time.Second)).
		Deploy(context.Background(), rendered)
	require.ErrorIs(t, err, ErrReload)
	assert.False(t, out.Reloaded)
	assert.NotEmpty(t, out.ReloadError)
	assert.FileExists(t, filepath.Join(dir, TargetsFileName), "files stay written")
}

func TestDeploy_ReloadTimeout(t *testing.T) {
	out, err := NewFileDeployer(t.TempDir(), WithReloadCommand([]string{"sleep", "5"}, 50*time.Millisecond)).
		Deploy(context.Background(), rendered)
	require.ErrorIs(t, err, ErrReload)
	assert.Contains(t, out.ReloadError, "timed out")
}
