package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
)

// ErrNoRemote is returned when a repository has no such remote.
var ErrNoRemote = errors.New("remote not configured")

// GitOpener opens git repositories using go-git.
type GitOpener struct{}

// NewGitOpener creates a new GitOpener.
func NewGitOpener() *GitOpener {
	return &GitOpener{}
}

// Open opens a git repository, detecting .git in parent directories.
func (o *GitOpener) Open(path string) (Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, err
	}
	root := path
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	return &gitRepository{repo: repo, root: root}, nil
}

// gitRepository wraps go-git Repository.
type gitRepository struct {
	repo *git.Repository
	root string
}

func (r *gitRepository) Root() string { return r.root }

func (r *gitRepository) RemoteURL(name string) (string, error) {
	remote, err := r.repo.Remote(name)
	if err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNoRemote, name)
		}
		return "", err
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: %s has no url", ErrNoRemote, name)
	}
	return urls[0], nil
}

func (r *gitRepository) Head() (string, string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", "", err
	}
	branch := ""
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}
	return branch, head.Hash().String(), nil
}

// IsDirty ignores untracked files.
func (r *gitRepository) IsDirty() (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, err
	}
	for _, s := range status {
		if s.Staging == git.Untracked && s.Worktree == git.Untracked {
			continue
		}
		if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
			return true, nil
		}
	}
	return false, nil
}

var defaultOpener Opener = NewGitOpener()

// DefaultOpener returns the opener used by Describe.
func DefaultOpener() Opener {
	return defaultOpener
}

// SetDefaultOpener replaces the opener used by Describe. Tests use it to
// inject fakes.
func SetDefaultOpener(opener Opener) {
	defaultOpener = opener
}
