package gitmeta

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepoWithCommit(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pom.xml"), []byte("<project/>"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("pom.xml")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir, hash.String()
}

func TestResolve(t *testing.T) {
	dir, sha := initRepoWithCommit(t)

	gotSHA, branch, err := NewResolver().Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, sha, gotSHA)
	assert.Equal(t, "master", branch)
}

func TestResolveFromSubdirectory(t *testing.T) {
	dir, sha := initRepoWithCommit(t)
	sub := filepath.Join(dir, "src", "main")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	gotSHA, _, err := NewResolver().Resolve(sub)
	require.NoError(t, err)
	assert.Equal(t, sha, gotSHA)
}

func TestResolveNotARepository(t *testing.T) {
	_, _, err := NewResolver().Resolve(t.TempDir())
	assert.Error(t, err)
}
