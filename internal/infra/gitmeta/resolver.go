package gitmeta

import (
	"fmt"

	git "github.com/go-git/go-git/v5"
)

// Resolver reads commit metadata straight from a workspace checkout, so pipe
// runs triggered outside a CI runner still carry source information.
type Resolver struct{}

func NewResolver() *Resolver { return &Resolver{} }

// Resolve returns the HEAD commit SHA and branch name of the checkout at
// workspace. A detached HEAD yields an empty branch.
func (r *Resolver) Resolve(workspace string) (string, string, error) {
	repo, err := git.PlainOpenWithOptions(workspace, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", "", fmt.Errorf("open repository at %s: %w", workspace, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", "", fmt.Errorf("resolve HEAD: %w", err)
	}

	branch := ""
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}
	return head.Hash().String(), branch, nil
}
