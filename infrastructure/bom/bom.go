// Package bom applies a transport bill of materials to a git repository:
// the BOM file is committed and pushed to a configured branch.
package bom

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	logger "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/gardener/cnudie-transport-tool/domain"
)

// FileName is the BOM file committed to the target repository.
const FileName = "bom.yaml"

const (
	commitAuthorName  = "cnudie-transport-tool"
	commitAuthorEmail = "cnudie-transport-tool@gardener.cloud"
)

// Applier clones the BOM repository, writes the BOM file and pushes the
// resulting commit. The clone is kept in memory.
type Applier struct {
	gitURL   string
	branch   string
	auth     transport.AuthMethod
	clockNow func() time.Time
}

// ApplierOption customizes an Applier.
type ApplierOption func(*Applier)

// WithBasicAuth authenticates git operations with username and token.
func WithBasicAuth(username, token string) ApplierOption {
	return func(a *Applier) {
		a.auth = &githttp.BasicAuth{Username: username, Password: token}
	}
}

// NewApplier creates an applier for one repository branch.
func NewApplier(gitURL, branch string, opts ...ApplierOption) *Applier {
	a := &Applier{
		gitURL:   gitURL,
		branch:   branch,
		clockNow: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply writes the BOM entries to the repository and pushes the commit.
// Entries are deduplicated by ref and sorted for a stable file layout.
func (a *Applier) Apply(ctx context.Context, entries []domain.BOMEntry) error {
	data, err := MarshalEntries(entries)
	if err != nil {
		return err
	}

	fs := memfs.New()
	repo, err := git.CloneContext(ctx, memory.NewStorage(), fs, &git.CloneOptions{
		URL:           a.gitURL,
		ReferenceName: plumbing.NewBranchReferenceName(a.branch),
		SingleBranch:  true,
		Depth:         1,
		Auth:          a.auth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone BOM repository %q: %w", a.gitURL, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	file, err := fs.Create(FileName)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", FileName, err)
	}
	if _, writeErr := file.Write(data); writeErr != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write %s: %w", FileName, writeErr)
	}
	if closeErr := file.Close(); closeErr != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, closeErr)
	}

	if _, addErr := worktree.Add(FileName); addErr != nil {
		return fmt.Errorf("failed to stage %s: %w", FileName, addErr)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("failed to read worktree status: %w", err)
	}
	if status.IsClean() {
		logger.Infof("BOM in %s already up to date", a.gitURL)
		return nil
	}

	_, err = worktree.Commit("update transport BOM", &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitAuthorName,
			Email: commitAuthorEmail,
			When:  a.clockNow(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit BOM: %w", err)
	}

	if err := repo.PushContext(ctx, &git.PushOptions{Auth: a.auth}); err != nil {
		return fmt.Errorf("failed to push BOM to %q: %w", a.gitURL, err)
	}

	logger.Infof("applied BOM with %d entries to %s (%s)", len(entries), a.gitURL, a.branch)
	return nil
}

// MarshalEntries serializes BOM entries deterministically: dedupe by ref,
// sort by ref.
func MarshalEntries(entries []domain.BOMEntry) ([]byte, error) {
	seen := make(map[string]struct{}, len(entries))
	unique := make([]domain.BOMEntry, 0, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.Ref]; dup {
			continue
		}
		seen[entry.Ref] = struct{}{}
		unique = append(unique, entry)
	}
	sort.Slice(unique, func(i, j int) bool {
		return unique[i].Ref < unique[j].Ref
	})

	data, err := yaml.Marshal(map[string]any{"resources": unique})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize BOM: %w", err)
	}
	return data, nil
}
