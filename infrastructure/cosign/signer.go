// Package cosign generates cosign signatures for copied image resources by
// shelling out to the cosign CLI.
package cosign

import (
	"context"
	"fmt"
	"strings"

	"github.com/gardener/cnudie-transport-tool/infrastructure/command"
)

// cosignPasswordEnv disables cosign's interactive password prompt.
const cosignPasswordEnv = "COSIGN_PASSWORD"

// Signer signs image references with a fixed key file.
type Signer struct {
	keyFile string
	runner  command.Runner
}

// NewSigner creates a signer using the given PEM key file.
func NewSigner(keyFile string, runner command.Runner) *Signer {
	return &Signer{keyFile: keyFile, runner: runner}
}

// Sign generates and uploads the cosign signature for an image reference.
// The reference must be pinned by digest: cosign derives the signature ref
// from the digest. The signature reference is returned.
func (s *Signer) Sign(ctx context.Context, imageRef string) (string, error) {
	sigRef, err := SignatureRef(imageRef)
	if err != nil {
		return "", err
	}

	_, err = s.runner.Run(ctx, command.Spec{
		Name: "cosign",
		Args: []string{"sign", "--key", s.keyFile, imageRef},
		Env:  []string{cosignPasswordEnv + "="},
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", imageRef, err)
	}

	return sigRef, nil
}

// SignatureRef derives the cosign signature reference for a digest-pinned
// image reference: <repo>:<algo>-<hex>.sig.
func SignatureRef(imageRef string) (string, error) {
	repo, digest, found := strings.Cut(imageRef, "@")
	if !found {
		return "", fmt.Errorf("only digest references can be signed, got %q", imageRef)
	}

	algo, hex, found := strings.Cut(digest, ":")
	if !found || algo == "" || hex == "" {
		return "", fmt.Errorf("invalid digest in reference %q", imageRef)
	}

	// a repo ref may still carry a tag before the digest
	if idx := strings.LastIndex(repo, ":"); idx > strings.LastIndex(repo, "/") {
		repo = repo[:idx]
	}

	return fmt.Sprintf("%s:%s-%s.sig", repo, algo, hex), nil
}
