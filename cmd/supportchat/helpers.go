package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/dacn-admin/supportchat"
	"go.uber.org/zap"
)

// configSession is a session backed by the config file. A rejected token is
// removed from the file so the next command asks for a fresh login.
type configSession struct {
	token string
	once  sync.Once
}

func (s *configSession) Token() string { return s.token }

func (s *configSession) OnUnauthorized() {
	s.once.Do(func() {
		fmt.Fprintln(os.Stderr, "Session rejected by the server. Run 'supportchat login <token>' again.")
		cfg, err := loadConfig()
		if err != nil {
			return
		}
		if cfg.Auth.Token != s.token {
			return
		}
		cfg.Auth.Token = ""
		if err := saveConfig(cfg); err != nil {
			logger.Warn("config_save_failed", zap.Error(err))
		}
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return strings.TrimRight(v, "/")
		}
	}
	return ""
}

// resolveEndpoints picks the REST base and realtime endpoint: flags first,
// then the config file, then the environment.
func resolveEndpoints(cfg *Config, lookup func(string) string) (apiURL, socketURL string) {
	apiURL = firstNonEmpty(flagAPIURL, cfg.Default.APIURL)
	if apiURL == "" {
		apiURL = supportchat.ResolveAPIURL(lookup)
	}
	socketURL = firstNonEmpty(flagSocketURL, cfg.Default.SocketURL, lookup(supportchat.EnvSocketURL), flagAPIURL, cfg.Default.APIURL)
	if socketURL == "" {
		socketURL = supportchat.ResolveSocketURL(lookup, cfg.Default.Origin)
	}
	return apiURL, socketURL
}

// getClient creates a client authenticated with the stored admin token.
func getClient() *supportchat.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No admin token. Run 'supportchat login <token>' first.")
		os.Exit(1)
	}

	apiURL, socketURL := resolveEndpoints(cfg, os.Getenv)
	return supportchat.NewClient(&configSession{token: cfg.Auth.Token},
		supportchat.WithBaseURL(apiURL),
		supportchat.WithSocketURL(socketURL),
		supportchat.WithAdminID(cfg.Auth.AdminID),
		supportchat.WithLogger(logger),
	)
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
