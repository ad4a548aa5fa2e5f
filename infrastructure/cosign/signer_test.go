package cosign_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gardener/cnudie-transport-tool/infrastructure/cosign"
	testdoubles "github.com/gardener/cnudie-transport-tool/test"
)

func TestSignatureRef(t *testing.T) {
	t.Parallel()

	t.Run("should derive the signature reference from the digest", func(t *testing.T) {
		t.Parallel()

		// when
		sigRef, err := cosign.SignatureRef("registry.internal/copies/img@sha256:abc123")

		// then
		require.NoError(t, err)
		assert.Equal(t, "registry.internal/copies/img:sha256-abc123.sig", sigRef)
	})

	t.Run("should drop a tag preceding the digest", func(t *testing.T) {
		t.Parallel()

		// when
		sigRef, err := cosign.SignatureRef("registry.internal/copies/img:1.0.0@sha256:abc123")

		// then
		require.NoError(t, err)
		assert.Equal(t, "registry.internal/copies/img:sha256-abc123.sig", sigRef)
	})

	t.Run("should reject tag-only references", func(t *testing.T) {
		t.Parallel()

		// when
		_, err := cosign.SignatureRef("registry.internal/copies/img:1.0.0")

		// then
		assert.ErrorContains(t, err, "only digest references can be signed")
	})

	t.Run("should reject malformed digests", func(t *testing.T) {
		t.Parallel()

		// when
		_, err := cosign.SignatureRef("registry.internal/copies/img@garbage")

		// then
		assert.ErrorContains(t, err, "invalid digest")
	})
}

func TestSigner_Sign(t *testing.T) {
	t.Parallel()

	t.Run("should run cosign with the key file and an empty password", func(t *testing.T) {
		t.Parallel()

		// given
		stubRunner := &testdoubles.StubRunner{}
		signer := cosign.NewSigner("/keys/signing.pem", stubRunner)

		// when
		sigRef, err := signer.Sign(context.Background(), "registry.internal/img@sha256:abc")

		// then
		require.NoError(t, err)
		assert.Equal(t, "registry.internal/img:sha256-abc.sig", sigRef)

		require.Len(t, stubRunner.Specs, 1)
		spec := stubRunner.Specs[0]
		assert.Equal(t, "cosign", spec.Name)
		assert.Equal(t, []string{"sign", "--key", "/keys/signing.pem", "registry.internal/img@sha256:abc"}, spec.Args)
		assert.Contains(t, spec.Env, "COSIGN_PASSWORD=")
	})

	t.Run("should not invoke cosign for unsignable references", func(t *testing.T) {
		t.Parallel()

		// given
		stubRunner := &testdoubles.StubRunner{}
		signer := cosign.NewSigner("/keys/signing.pem", stubRunner)

		// when
		_, err := signer.Sign(context.Background(), "registry.internal/img:1.0.0")

		// then
		require.Error(t, err)
		assert.Empty(t, stubRunner.Specs)
	})

	t.Run("should wrap cosign failures", func(t *testing.T) {
		t.Parallel()

		// given
		stubRunner := &testdoubles.StubRunner{RunErr: assert.AnError}
		signer := cosign.NewSigner("/keys/signing.pem", stubRunner)

		// when
		_, err := signer.Sign(context.Background(), "registry.internal/img@sha256:abc")

		// then
		assert.ErrorContains(t, err, "failed to sign")
	})
}
