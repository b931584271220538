// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/rpsession/oidc"
	"github.com/hashicorp/rpsession/session"
	"github.com/hashicorp/rpsession/store"
)

// List of required configuration environment variables
const (
	domain       = "OIDC_DOMAIN"
	clientID     = "OIDC_CLIENT_ID"
	clientSecret = "OIDC_CLIENT_SECRET"
	cookieSecret = "OIDC_COOKIE_SECRET"
	port         = "OIDC_PORT"
)

func envConfig() (map[string]string, error) {
	const op = "envConfig"
	env := map[string]string{}
	for _, k := range []string{domain, clientID, clientSecret, cookieSecret, port} {
		v := os.Getenv(k)
		if v == "" {
			return nil, fmt.Errorf("%s: %s is empty", op, k)
		}
		env[k] = v
	}
	return env, nil
}

func main() {
	usePAR := flag.Bool("par", false, "use pushed authorization requests")
	redisURL := flag.String("redis", "", "redis URL of the backchannel logout cache (default: in memory)")
	revocationFile := flag.String("revocation-file", "", "file of the backchannel logout cache (default: in memory)")
	eager := flag.Bool("eager", false, "renew expired sessions on every read")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "webapp",
		Level: hclog.LevelFromString(os.Getenv("LOG_LEVEL")),
	})

	env, err := envConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	revocations, err := newRevocationCache(ctx, *redisURL, *revocationFile)
	if err != nil {
		logger.Error("unable to open backchannel logout cache", "error", err)
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%s", env[port])
	opts := []oidc.Option{
		oidc.WithClientSecret(oidc.ClientSecret(env[clientSecret])),
		oidc.WithCookieSecret(oidc.CookieSecret(env[cookieSecret])),
		oidc.WithRedirectURL(baseURL + "/callback"),
		oidc.WithScopes("profile", "email", "offline_access"),
		oidc.WithReturnToURL(baseURL + "/"),
		oidc.WithBackchannelLogoutCache(revocations),
		oidc.WithLogger(logger.Named("oidc")),
	}
	if *usePAR {
		opts = append(opts, oidc.WithPushedAuthorizationRequests())
	}
	pc, err := oidc.NewConfig(env[domain], env[clientID], opts...)
	if err != nil {
		logger.Error("invalid provider configuration", "error", err)
		os.Exit(1)
	}
	p, err := oidc.NewProvider(pc)
	if err != nil {
		logger.Error("unable to create provider", "error", err)
		os.Exit(1)
	}
	defer p.Done()

	policy := session.RenewOnDemand
	if *eager {
		policy = session.RenewEager
	}
	m, err := session.NewManager(p, session.WithRenewalPolicy(policy), session.WithLogger(logger.Named("session")))
	if err != nil {
		logger.Error("unable to create session manager", "error", err)
		os.Exit(1)
	}

	mux, err := routes(m, oidc.CookieSecret(env[cookieSecret]), logger)
	if err != nil {
		logger.Error("unable to create routes", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("localhost:%s", env[port]),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "url", baseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCh <- err
		}
	}()

	select {
	case err := <-srvCh:
		logger.Error("server closed with error", "error", err)
	case <-ctx.Done():
		logger.Info("interrupted")
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
	}
}

// newRevocationCache returns the cache of backchannel logout markers.  A
// redis or file cache is shared by every instance of the app.
func newRevocationCache(ctx context.Context, redisURL, path string) (store.Cache, error) {
	switch {
	case redisURL != "" && path != "":
		return nil, errors.New("only one of -redis and -revocation-file may be used")
	case redisURL != "":
		return store.NewRedis(ctx, redisURL, store.WithKeyPrefix("webapp:"))
	case path != "":
		return store.NewFile(path)
	default:
		return store.NewMemory(), nil
	}
}
