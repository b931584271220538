// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeVerifier(t *testing.T) {
	t.Parallel()
	t.Run("every-valid-length", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		for l := MinVerifierLength; l <= MaxVerifierLength; l++ {
			v, err := GenerateCodeVerifier(l)
			require.NoError(err)
			assert.Len(v, l)
			for _, c := range v {
				assert.Truef(strings.ContainsRune(verifierCharset, c), "unexpected char %q in %q", c, v)
			}
		}
	})
	t.Run("out-of-range", func(t *testing.T) {
		for _, l := range []int{-1, 0, 1, MinVerifierLength - 1, MaxVerifierLength + 1, 1024} {
			v, err := GenerateCodeVerifier(l)
			require.Errorf(t, err, "length %d", l)
			assert.ErrorIs(t, err, ErrPKCELength)
			assert.Empty(t, v)
		}
	})
	t.Run("unique", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			v, err := GenerateCodeVerifier(MinVerifierLength)
			require.NoError(err)
			assert.False(seen[v])
			seen[v] = true
		}
	})
	t.Run("uses-the-whole-charset", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		seen := map[rune]bool{}
		for i := 0; i < 200; i++ {
			v, err := GenerateCodeVerifier(MaxVerifierLength)
			require.NoError(err)
			for _, c := range v {
				seen[c] = true
			}
		}
		assert.Len(seen, len(verifierCharset))
	})
}

func TestGenerateCodeChallenge(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	const verifier = "Q6D5aiJHs6QdEILJoCz5pFw3Wmi9UiP8ovQbvlgd3Gc"
	const want = "f3X4JO4FpNodO254hdZAMCYKE4fzFn8ezYlLUr5qjH4"
	assert.Equal(want, GenerateCodeChallenge(verifier))
	assert.Equal(GenerateCodeChallenge(verifier), GenerateCodeChallenge(verifier))
	assert.NotEqual(want, GenerateCodeChallenge(verifier+"x"))
	assert.NotContains(GenerateCodeChallenge(verifier), "=")
}

func TestNewCodeVerifier(t *testing.T) {
	t.Parallel()
	t.Run("defaults", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewCodeVerifier()
		require.NoError(err)
		assert.Len(got.Verifier(), DefaultVerifierLength)
		assert.Equal(S256, got.Method())
		assert.Equal(GenerateCodeChallenge(got.Verifier()), got.Challenge())
	})
	t.Run("with-length", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewCodeVerifier(WithVerifierLength(MaxVerifierLength))
		require.NoError(err)
		assert.Len(got.Verifier(), MaxVerifierLength)
	})
	t.Run("invalid-length", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewCodeVerifier(WithVerifierLength(10))
		require.Error(err)
		assert.Nil(got)
		assert.ErrorIs(err, ErrPKCELength)
	})
}
