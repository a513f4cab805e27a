package vcs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func initTestRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	repoPath := filepath.Join(t.TempDir(), "widgets")
	repo, err := git.PlainInit(repoPath, false)
	if err != nil {
		t.Fatalf("Failed to init repo: %v", err)
	}
	return repoPath, repo
}

func commitFile(t *testing.T, repo *git.Repository, repoPath, name, content string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(repoPath, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add(name); err != nil {
		t.Fatal(err)
	}
	hash, err := w.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}
	return hash.String()
}

func TestNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/acme/widgets.git", "widgets"},
		{"https://github.com/acme/widgets", "widgets"},
		{"https://github.com/acme/widgets/", "widgets"},
		{"git@github.com:acme/widgets.git", "widgets"},
		{"ssh://git@host:2222/team/tools.git", "tools"},
		{"/srv/git/local-repo.git", "local-repo"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := NameFromURL(tt.url); got != tt.want {
				t.Errorf("NameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestDescribe_OutsideRepository(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plain-dir")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	p := Describe(dir)
	if p.Repo != "plain-dir" {
		t.Errorf("Repo = %q, want plain-dir", p.Repo)
	}
	if p.Commit != "" || p.Remote != "" {
		t.Errorf("unexpected git metadata: %+v", p)
	}
}

func TestDescribe_WithoutRemoteUsesRootName(t *testing.T) {
	repoPath, repo := initTestRepo(t)
	hash := commitFile(t, repo, repoPath, "a.py", "x = 1\n")

	sub := filepath.Join(repoPath, "src")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}

	p := Describe(sub)
	if p.Repo != "widgets" {
		t.Errorf("Repo = %q, want widgets", p.Repo)
	}
	if p.Commit != hash {
		t.Errorf("Commit = %q, want %q", p.Commit, hash)
	}
	if p.Branch == "" {
		t.Error("Branch should be set on a fresh repository")
	}
	if p.Dirty {
		t.Error("clean repository reported dirty")
	}
}

func TestDescribe_OriginRemote(t *testing.T) {
	repoPath, repo := initTestRepo(t)
	commitFile(t, repo, repoPath, "a.py", "x = 1\n")
	if _, err := repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@github.com:acme/gadgets.git"},
	}); err != nil {
		t.Fatal(err)
	}

	if got := RepoName(repoPath); got != "gadgets" {
		t.Errorf("RepoName() = %q, want gadgets", got)
	}
	p := Describe(repoPath)
	if p.Remote != "git@github.com:acme/gadgets.git" {
		t.Errorf("Remote = %q", p.Remote)
	}
}

func TestDescribe_Dirty(t *testing.T) {
	repoPath, repo := initTestRepo(t)
	commitFile(t, repo, repoPath, "a.py", "x = 1\n")
	if err := os.WriteFile(filepath.Join(repoPath, "a.py"), []byte("x = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if !Describe(repoPath).Dirty {
		t.Error("modified tracked file should make the repository dirty")
	}
}

func TestRemoteURL_Missing(t *testing.T) {
	repoPath, _ := initTestRepo(t)
	repo, err := NewGitOpener().Open(repoPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := repo.RemoteURL("origin"); !errors.Is(err, ErrNoRemote) {
		t.Errorf("RemoteURL() error = %v, want ErrNoRemote", err)
	}
}

type fakeRepo struct{ url string }

func (f fakeRepo) Root() string                     { return "/work/checkout" }
func (f fakeRepo) RemoteURL(string) (string, error) { return f.url, nil }
func (f fakeRepo) Head() (string, string, error)    { return "main", "abc123", nil }
func (f fakeRepo) IsDirty() (bool, error)           { return false, nil }

type fakeOpener struct{ repo Repository }

func (o fakeOpener) Open(string) (Repository, error) { return o.repo, nil }

func TestSetDefaultOpener(t *testing.T) {
	prev := DefaultOpener()
	t.Cleanup(func() { SetDefaultOpener(prev) })
	SetDefaultOpener(fakeOpener{repo: fakeRepo{url: "https://example.com/org/service.git"}})

	p := Describe("/anywhere")
	want := Provenance{Repo: "service", Remote: "https://example.com/org/service.git", Branch: "main", Commit: "abc123"}
	if p != want {
		t.Errorf("Describe() = %+v, want %+v", p, want)
	}
}
