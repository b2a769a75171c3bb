package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/config"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/go-git/go-git/v6/plumbing/transport"
	"github.com/go-git/go-git/v6/plumbing/transport/http"
	log "github.com/sirupsen/logrus"
)

// gcInterval defines minimum time between garbage collection runs.
const gcInterval = 5 * time.Minute

const gitSessionDir = "session"

// GitStoreConfig configures a GitStore. An empty Remote keeps history local only.
type GitStoreConfig struct {
	Remote   string
	Username string
	Password string
	Dir      string
}

// GitStore keeps one file per session key in a git working tree. Every write is committed,
// the branch is squashed to a single commit and force pushed so old tokens do not linger in history.
type GitStore struct {
	mu       sync.Mutex
	repoDir  string
	remote   string
	username string
	password string
	lastGC   time.Time
	ready    bool
}

// NewGitStore prepares the working tree by cloning, opening or initializing the repository.
func NewGitStore(cfg GitStoreConfig) (*GitStore, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, fmt.Errorf("git store: local directory not configured")
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	s := &GitStore{
		repoDir:  dir,
		remote:   strings.TrimSpace(cfg.Remote),
		username: cfg.Username,
		password: cfg.Password,
	}
	if err := s.EnsureRepository(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the working tree root.
func (s *GitStore) Dir() string { return s.repoDir }

// EnsureRepository prepares the local git working tree. It is safe to call repeatedly.
func (s *GitStore) EnsureRepository() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	gitDir := filepath.Join(s.repoDir, ".git")
	if _, err := os.Stat(gitDir); errors.Is(err, fs.ErrNotExist) {
		if err = s.initLocked(); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("git store: stat repo: %w", err)
	} else if err = s.pullLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.repoDir, gitSessionDir), 0o700); err != nil {
		return fmt.Errorf("git store: create session dir: %w", err)
	}
	s.ready = true
	return nil
}

func (s *GitStore) initLocked() error {
	if err := os.MkdirAll(s.repoDir, 0o700); err != nil {
		return fmt.Errorf("git store: create repo dir: %w", err)
	}
	if s.remote != "" {
		_, errClone := git.PlainClone(s.repoDir, &git.CloneOptions{Auth: s.gitAuth(), URL: s.remote})
		if errClone == nil {
			return nil
		}
		if !errors.Is(errClone, transport.ErrEmptyRemoteRepository) {
			return fmt.Errorf("git store: clone remote: %w", errClone)
		}
		_ = os.RemoveAll(filepath.Join(s.repoDir, ".git"))
	}
	repo, err := git.PlainInit(s.repoDir, false)
	if err != nil {
		return fmt.Errorf("git store: init repo: %w", err)
	}
	if s.remote != "" {
		if _, errCreate := repo.CreateRemote(&config.RemoteConfig{
			Name: "origin",
			URLs: []string{s.remote},
		}); errCreate != nil && !errors.Is(errCreate, git.ErrRemoteExists) {
			return fmt.Errorf("git store: configure remote: %w", errCreate)
		}
	}
	placeholder := filepath.Join(gitSessionDir, ".gitkeep")
	if err = ensureEmptyFile(filepath.Join(s.repoDir, placeholder)); err != nil {
		return fmt.Errorf("git store: create placeholder: %w", err)
	}
	return s.commitAndPushLocked("Initialize session store", placeholder)
}

func (s *GitStore) pullLocked() error {
	if s.remote == "" {
		return nil
	}
	repo, err := git.PlainOpen(s.repoDir)
	if err != nil {
		return fmt.Errorf("git store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	if errPull := worktree.Pull(&git.PullOptions{Auth: s.gitAuth(), RemoteName: "origin"}); errPull != nil {
		switch {
		case errors.Is(errPull, git.NoErrAlreadyUpToDate),
			errors.Is(errPull, git.ErrUnstagedChanges),
			errors.Is(errPull, git.ErrNonFastForwardUpdate):
			// Local changes win.
		case errors.Is(errPull, transport.ErrAuthenticationRequired),
			errors.Is(errPull, plumbing.ErrReferenceNotFound),
			errors.Is(errPull, transport.ErrEmptyRemoteRepository):
		default:
			return fmt.Errorf("git store: pull: %w", errPull)
		}
	}
	return nil
}

func (s *GitStore) Get(_ context.Context, key string) (string, bool, error) {
	rel, err := s.relPath(key)
	if err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(filepath.Join(s.repoDir, rel))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("git store: read %s: %w", key, err)
	}
	return string(data), true, nil
}

func (s *GitStore) Set(_ context.Context, key, value string) error {
	rel, err := s.relPath(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := filepath.Join(s.repoDir, rel)
	if existing, errRead := os.ReadFile(path); errRead == nil && string(existing) == value {
		return nil
	}
	if err = os.WriteFile(path, []byte(value), 0o600); err != nil {
		return fmt.Errorf("git store: write %s: %w", key, err)
	}
	return s.commitAndPushLocked("Update "+key, rel)
}

func (s *GitStore) Delete(_ context.Context, key string) error {
	rel, err := s.relPath(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err = os.Remove(filepath.Join(s.repoDir, rel)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("git store: delete %s: %w", key, err)
	}
	return s.commitAndPushLocked("Delete "+key, rel)
}

// relPath maps key to a file inside the session directory.
func (s *GitStore) relPath(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("git store: invalid key %q", key)
	}
	return filepath.Join(gitSessionDir, key), nil
}

func (s *GitStore) gitAuth() transport.AuthMethod {
	if s.username == "" && s.password == "" {
		return nil
	}
	user := s.username
	if user == "" {
		user = "git"
	}
	return &http.BasicAuth{Username: user, Password: s.password}
}

func (s *GitStore) commitAndPushLocked(message string, relPaths ...string) error {
	repo, err := git.PlainOpen(s.repoDir)
	if err != nil {
		return fmt.Errorf("git store: open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("git store: worktree: %w", err)
	}
	for _, rel := range relPaths {
		if _, err = worktree.Add(filepath.ToSlash(rel)); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("git store: add %s: %w", rel, err)
			}
			if _, errRemove := worktree.Remove(filepath.ToSlash(rel)); errRemove != nil && !errors.Is(errRemove, os.ErrNotExist) {
				return fmt.Errorf("git store: remove %s: %w", rel, errRemove)
			}
		}
	}
	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("git store: status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	signature := &object.Signature{
		Name:  "alien-sso",
		Email: "alien-sso@local",
		When:  time.Now(),
	}
	commitHash, err := worktree.Commit(message, &git.CommitOptions{Author: signature})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return nil
		}
		return fmt.Errorf("git store: commit: %w", err)
	}
	headRef, errHead := repo.Head()
	if errHead != nil {
		if !errors.Is(errHead, plumbing.ErrReferenceNotFound) {
			return fmt.Errorf("git store: get head: %w", errHead)
		}
	} else if errRewrite := rewriteHeadAsSingleCommit(repo, headRef.Name(), commitHash, message, signature); errRewrite != nil {
		return errRewrite
	}
	s.maybeRunGC(repo)
	if s.remote == "" {
		return nil
	}
	if err = repo.Push(&git.PushOptions{Auth: s.gitAuth(), Force: true}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fmt.Errorf("git store: push: %w", err)
	}
	log.Debugf("git store: pushed %q", message)
	return nil
}

// rewriteHeadAsSingleCommit replaces the branch tip with a parentless commit of the same tree.
func rewriteHeadAsSingleCommit(repo *git.Repository, branch plumbing.ReferenceName, commitHash plumbing.Hash, message string, signature *object.Signature) error {
	commitObj, err := repo.CommitObject(commitHash)
	if err != nil {
		return fmt.Errorf("git store: inspect head commit: %w", err)
	}
	squashed := &object.Commit{
		Author:       *signature,
		Committer:    *signature,
		Message:      message,
		TreeHash:     commitObj.TreeHash,
		Encoding:     commitObj.Encoding,
		ExtraHeaders: commitObj.ExtraHeaders,
	}
	mem := &plumbing.MemoryObject{}
	mem.SetType(plumbing.CommitObject)
	if err = squashed.Encode(mem); err != nil {
		return fmt.Errorf("git store: encode squashed commit: %w", err)
	}
	newHash, err := repo.Storer.SetEncodedObject(mem)
	if err != nil {
		return fmt.Errorf("git store: write squashed commit: %w", err)
	}
	if err = repo.Storer.SetReference(plumbing.NewHashReference(branch, newHash)); err != nil {
		return fmt.Errorf("git store: update branch reference: %w", err)
	}
	return nil
}

func (s *GitStore) maybeRunGC(repo *git.Repository) {
	now := time.Now()
	if now.Sub(s.lastGC) < gcInterval {
		return
	}
	s.lastGC = now
	pruneOpts := git.PruneOptions{
		OnlyObjectsOlderThan: now,
		Handler:              repo.DeleteObject,
	}
	if err := repo.Prune(pruneOpts); err != nil && !errors.Is(err, git.ErrLooseObjectsNotSupported) {
		return
	}
	_ = repo.RepackObjects(&git.RepackConfig{})
}

func ensureEmptyFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, nil, 0o600)
}
