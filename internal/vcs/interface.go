// Package vcs reads repository provenance: the repository name, remote,
// branch and commit an analysis ran against.
package vcs

// Repository provides the git metadata provenance needs.
type Repository interface {
	// Root returns the working tree root.
	Root() string
	// RemoteURL returns the first URL configured for the named remote.
	RemoteURL(name string) (string, error)
	// Head returns the short branch name (empty when detached) and the
	// commit hash HEAD points at.
	Head() (branch, commit string, err error)
	// IsDirty reports uncommitted changes to tracked files.
	IsDirty() (bool, error)
}

// Opener opens repositories.
type Opener interface {
	// Open opens the repository containing path, searching parent
	// directories for .git.
	Open(path string) (Repository, error)
}
