// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reef

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// RateLimitRule bounds request volume on one endpoint.
type RateLimitRule struct {
	MaxRequests   int `yaml:"max_requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// UserRules tunes the hidden constraints on user creation.
type UserRules struct {
	MinAge          int           `yaml:"min_age"`
	UsernamePattern string        `yaml:"username_pattern"`
	RateLimit       RateLimitRule `yaml:"rate_limit"`
}

// OrderRules tunes the hidden constraints on order creation.
type OrderRules struct {
	RateLimit RateLimitRule `yaml:"rate_limit"`
}

// RuleSet is the tunable half of the hidden constraint surface,
// loadable from a YAML fixture so scenarios can shift mid-run.
type RuleSet struct {
	Users  UserRules  `yaml:"users"`
	Orders OrderRules `yaml:"orders"`
}

// DefaultRuleSet returns the stock scenario.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Users: UserRules{
			MinAge:          18,
			UsernamePattern: `^[a-zA-Z0-9_]{3,20}$`,
			RateLimit:       RateLimitRule{MaxRequests: 10, WindowSeconds: 30},
		},
		Orders: OrderRules{
			RateLimit: RateLimitRule{MaxRequests: 10, WindowSeconds: 60},
		},
	}
}

// Rules is the live rule store.
//
// Description:
//
//	Holds the current RuleSet with its compiled username pattern.
//	Load swaps the set atomically; Watch reloads on fixture edits, so
//	a scenario file can be tweaked while learners are probing.
//
// Thread Safety: Rules is safe for concurrent use.
type Rules struct {
	mu         sync.RWMutex
	set        RuleSet
	usernameRe *regexp.Regexp

	logger   *slog.Logger
	onReload func(RuleSet)
}

// RulesOption configures a Rules store.
type RulesOption func(*Rules)

// WithRulesLogger replaces the default logger.
func WithRulesLogger(logger *slog.Logger) RulesOption {
	return func(r *Rules) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithOnReload registers a hook invoked after every successful load.
// The server uses this to rebuild its rate limiters.
func WithOnReload(fn func(RuleSet)) RulesOption {
	return func(r *Rules) {
		r.onReload = fn
	}
}

// NewRules creates a store holding the default scenario.
func NewRules(opts ...RulesOption) *Rules {
	r := &Rules{
		set:        DefaultRuleSet(),
		usernameRe: regexp.MustCompile(DefaultRuleSet().Users.UsernamePattern),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads a fixture over the defaults and swaps the live set.
// On any error the previous set stays in force.
func (r *Rules) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading rule fixture %s: %w", path, err)
	}

	set := DefaultRuleSet()
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return fmt.Errorf("parsing rule fixture %s: %w", path, err)
	}
	if set.Users.RateLimit.MaxRequests <= 0 || set.Users.RateLimit.WindowSeconds <= 0 ||
		set.Orders.RateLimit.MaxRequests <= 0 || set.Orders.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rule fixture %s: rate limits must be positive", path)
	}
	re, err := regexp.Compile(set.Users.UsernamePattern)
	if err != nil {
		return fmt.Errorf("rule fixture %s: bad username pattern: %w", path, err)
	}

	r.mu.Lock()
	r.set = set
	r.usernameRe = re
	r.mu.Unlock()

	r.logger.Info("rule fixture loaded",
		slog.String("path", path),
		slog.Int("min_age", set.Users.MinAge),
		slog.String("username_pattern", set.Users.UsernamePattern),
	)
	if r.onReload != nil {
		r.onReload(set)
	}
	return nil
}

// Snapshot returns the current rule set.
func (r *Rules) Snapshot() RuleSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set
}

// UsernameOK reports whether a username matches the live pattern.
func (r *Rules) UsernameOK(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usernameRe.MatchString(username)
}

// MinAge returns the live minimum account age.
func (r *Rules) MinAge() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Users.MinAge
}

// Watch reloads the fixture whenever it changes on disk, until the
// context is cancelled.
//
// Description:
//
//	Watches the fixture's directory rather than the file itself so
//	editors that replace the file (write to temp, rename over) keep
//	the watch alive. The first load happens before watching starts;
//	a missing fixture at that point is fine, the defaults stay.
func (r *Rules) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting rule watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	if err := r.Load(path); err != nil {
		r.logger.Warn("initial rule fixture load failed, keeping defaults",
			slog.String("error", err.Error()))
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := r.Load(path); err != nil {
					r.logger.Warn("rule fixture reload failed, keeping previous rules",
						slog.String("error", err.Error()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("rule watcher error", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}
