// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package strutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrutil_ListContains(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	haystack := []string{
		"openid",
		"profile",
		"email",
		"offline_access",
	}
	require.False(StrListContains(haystack, "read:users"))
	require.True(StrListContains(haystack, "offline_access"))
	require.False(StrListContains(nil, ""))
}

func TestStrUtil_RemoveDuplicatesStable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input           []string
		want            []string
		caseInsensitive bool
	}{
		{[]string{}, []string{}, false},
		{[]string{}, []string{}, true},
		{[]string{"openid", "profile", "openid"}, []string{"openid", "profile"}, false},
		{[]string{"Login", "consent", "login"}, []string{"Login", "consent", "login"}, false},
		{[]string{"Login", "consent", "login"}, []string{"Login", "consent"}, true},
		{[]string{" ", "email", "openid", "email"}, []string{"email", "openid"}, false},
		{[]string{"Email ", " email", " email ", "sub"}, []string{"Email ", "sub"}, true},
		{[]string{"Email ", " email", " email ", "sub"}, []string{"Email ", " email", "sub"}, false},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, RemoveDuplicatesStable(tt.input, tt.caseInsensitive), "input %q", tt.input)
	}
}

func TestSplitScopes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"openid", "profile", "offline_access"}, SplitScopes(" openid  profile\toffline_access "))
	assert.Empty(t, SplitScopes(""))
}
