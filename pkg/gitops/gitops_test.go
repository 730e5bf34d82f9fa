package gitops

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a git repository with one commit in a temp dir.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@test.local"},
		{"config", "user.name", "Test"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0o644))
	client := NewClient(dir, 30*time.Second, nil)
	_, ok, err := client.StageAndCommit(context.Background(), "initial commit")
	require.NoError(t, err)
	require.True(t, ok)
	return dir
}

func TestEnsureRepo(t *testing.T) {
	dir := initRepo(t)
	client := NewClient(dir, 30*time.Second, nil)
	require.NoError(t, client.EnsureRepo(context.Background()))
}

func TestEnsureRepoRejectsPlainDir(t *testing.T) {
	client := NewClient(t.TempDir(), 30*time.Second, nil)
	err := client.EnsureRepo(context.Background())
	assert.ErrorIs(t, err, ErrNotARepository)
}

func TestCurrentBranch(t *testing.T) {
	dir := initRepo(t)
	client := NewClient(dir, 30*time.Second, nil)

	branch, err := client.CurrentBranch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestCreateBranchCollisionSuffix(t *testing.T) {
	dir := initRepo(t)
	client := NewClient(dir, 30*time.Second, nil)
	ctx := context.Background()

	first, err := client.CreateBranch(ctx, "task/T-001", "")
	require.NoError(t, err)
	assert.Equal(t, "task/T-001", first)

	// Repeated collisions never reuse a name.
	second, err := client.CreateBranch(ctx, "task/T-001", "main")
	require.NoError(t, err)
	assert.Equal(t, "task/T-001-1", second)

	third, err := client.CreateBranch(ctx, "task/T-001", "main")
	require.NoError(t, err)
	assert.Equal(t, "task/T-001-2", third)
}

func TestStageAndCommit(t *testing.T) {
	dir := initRepo(t)
	client := NewClient(dir, 30*time.Second, nil)
	ctx := context.Background()

	// Clean tree: no commit, no error.
	hash, ok, err := client.StageAndCommit(ctx, "empty")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, hash)

	// One new file: a commit with a full-length hash.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("data\n"), 0o644))
	hash, ok, err = client.StageAndCommit(ctx, "add new.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, hash, 40)

	// Clean again afterwards.
	_, ok, err = client.StageAndCommit(ctx, "empty again")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStaleLockCleared(t *testing.T) {
	dir := initRepo(t)
	client := NewClient(dir, 30*time.Second, nil)
	ctx := context.Background()

	lock := filepath.Join(dir, ".git", "index.lock")
	require.NoError(t, os.WriteFile(lock, []byte{}, 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644))
	hash, ok, err := client.StageAndCommit(ctx, "survives stale lock")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, hash)

	_, statErr := os.Stat(lock)
	assert.True(t, os.IsNotExist(statErr), "stale lock must be gone after the operation")
}

func TestCommitMessageRecorded(t *testing.T) {
	dir := initRepo(t)
	client := NewClient(dir, 30*time.Second, nil)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b\n"), 0o644))
	_, ok, err := client.StageAndCommit(ctx, "task: T-001\nplanner_session_id: abc")
	require.NoError(t, err)
	require.True(t, ok)

	cmd := exec.Command("git", "log", "-1", "--pretty=%B")
	cmd.Dir = dir
	out, err := cmd.Output()
	require.NoError(t, err)
	assert.Contains(t, string(out), "planner_session_id: abc")
}
