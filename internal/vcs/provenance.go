package vcs

import (
	"path/filepath"
	"strings"
)

// Provenance identifies what an analysis ran against.
type Provenance struct {
	Repo   string `json:"repo"`
	Remote string `json:"remote,omitempty"`
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
	Dirty  bool   `json:"dirty,omitempty"`
}

// Describe collects provenance for path. Outside a repository only Repo
// is set, from the directory name.
func Describe(path string) Provenance {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	p := Provenance{Repo: dirName(abs)}

	repo, err := DefaultOpener().Open(abs)
	if err != nil {
		return p
	}
	p.Repo = dirName(repo.Root())
	if url, err := repo.RemoteURL("origin"); err == nil {
		p.Remote = url
		if name := NameFromURL(url); name != "" {
			p.Repo = name
		}
	}
	if branch, commit, err := repo.Head(); err == nil {
		p.Branch = branch
		p.Commit = commit
	}
	if dirty, err := repo.IsDirty(); err == nil {
		p.Dirty = dirty
	}
	return p
}

// RepoName names the repository at path: the origin remote's repository
// name when there is one, else the directory name.
func RepoName(path string) string {
	return Describe(path).Repo
}

// NameFromURL extracts the repository name from a remote URL such as
// https://host/org/name.git or git@host:org/name.git.
func NameFromURL(url string) string {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	url = strings.TrimSuffix(url, ".git")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 {
		url = url[i+1:]
	}
	return url
}

func dirName(path string) string {
	name := filepath.Base(filepath.Clean(path))
	if name == "." || name == string(filepath.Separator) {
		return "local"
	}
	return name
}
