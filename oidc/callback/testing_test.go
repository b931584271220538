// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/session"
	"github.com/hashicorp/rpsession/store"
)

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(state string, c *session.Credentials, w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login successful"))
}

// testFailFn is a test ErrorResponseFunc
func testFailFn(state string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	if e != nil {
		w.WriteHeader(http.StatusInternalServerError)
		j, _ := json.Marshal(&AuthenErrorResponse{
			Error:       "internal-callback-error",
			Description: e.Error(),
		})
		_, _ = w.Write(j)
		return
	}
	if r != nil {
		w.WriteHeader(http.StatusUnauthorized)
		j, _ := json.Marshal(r)
		_, _ = w.Write(j)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	j, _ := json.Marshal(&AuthenErrorResponse{
		Error: "unknown-callback-error",
	})
	_, _ = w.Write(j)
}

// testErrorRecorder returns an ErrorResponseFunc which records the error it
// gets, then responds like testFailFn.
func testErrorRecorder(got *error) ErrorResponseFunc {
	return func(state string, r *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		*got = e
		testFailFn(state, r, e, w, req)
	}
}

// testNewManager starts a TestProvider and returns it with a session manager
// for it.  The provider has a backchannel logout cache.
func testNewManager(t *testing.T) (*oidc.TestProvider, *session.Manager) {
	t.Helper()
	require := require.New(t)
	tp := oidc.StartTestProvider(t)
	p, err := oidc.NewProvider(tp.NewTestConfig(t, oidc.WithBackchannelLogoutCache(store.NewMemory())))
	require.NoError(err)
	t.Cleanup(p.Done)
	m, err := session.NewManager(p)
	require.NoError(err)
	return tp, m
}
