// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/Sounder/services/engine/constraints"
)

// minSupport is the number of supporting constraints every pattern
// needs. A signature seen once is an observation, not a pattern.
const minSupport = 2

// Engine discovers and stores cross-endpoint patterns.
//
// Description:
//
//	Discover runs the four signature passes over a constraint listing
//	and stores the results keyed by pattern ID. Re-derived IDs replace
//	the stored object; patterns whose evidence disappeared stay until
//	superseded. Predict and Export read the stored set.
//
// Thread Safety: safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	patterns map[string]*CrossEndpointPattern
	order    []string
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for discovery events.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// withClock pins time for tests.
func withClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an empty pattern engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		patterns: make(map[string]*CrossEndpointPattern),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// Grouping
// =============================================================================

// Grouping partitions constraints along the axes the discovery passes
// and reporting surfaces read.
type Grouping struct {
	ByKind      map[constraints.Kind][]*constraints.Constraint
	ByParameter map[string][]*constraints.Constraint
	ByEndpoint  map[string][]*constraints.Constraint
	ByBand      map[Band][]*constraints.Constraint

	// Specialized buckets for signature extraction.
	Exclusivity []*constraints.Constraint
	Conditional []*constraints.Constraint
	Business    []*constraints.Constraint
	RateLimit   []*constraints.Constraint
}

// Group partitions a constraint listing for analysis.
func Group(list []*constraints.Constraint) *Grouping {
	g := &Grouping{
		ByKind:      make(map[constraints.Kind][]*constraints.Constraint),
		ByParameter: make(map[string][]*constraints.Constraint),
		ByEndpoint:  make(map[string][]*constraints.Constraint),
		ByBand:      make(map[Band][]*constraints.Constraint),
	}
	for _, c := range list {
		g.ByKind[c.Kind] = append(g.ByKind[c.Kind], c)
		g.ByParameter[c.Parameter] = append(g.ByParameter[c.Parameter], c)
		g.ByEndpoint[c.Endpoint] = append(g.ByEndpoint[c.Endpoint], c)
		g.ByBand[BandFor(c.Confidence)] = append(g.ByBand[BandFor(c.Confidence)], c)

		switch c.Kind {
		case constraints.KindMutualExclusivity:
			g.Exclusivity = append(g.Exclusivity, c)
		case constraints.KindConditionalRequirement:
			g.Conditional = append(g.Conditional, c)
		case constraints.KindBusinessRule:
			g.Business = append(g.Business, c)
		case constraints.KindRateLimiting:
			g.RateLimit = append(g.RateLimit, c)
		}
	}
	return g
}

// =============================================================================
// Discovery
// =============================================================================

// Discover runs every discovery pass over the constraint listing and
// stores the resulting patterns.
//
// Outputs:
//
//	[]*CrossEndpointPattern - Clones of the patterns this pass derived,
//	in derivation order.
func (e *Engine) Discover(list []*constraints.Constraint) []*CrossEndpointPattern {
	g := Group(list)

	var found []*CrossEndpointPattern
	found = append(found, e.discoverParameterPatterns(g)...)
	found = append(found, e.discoverExclusivityPatterns(g)...)
	found = append(found, e.discoverBusinessPatterns(g)...)
	found = append(found, e.discoverRateLimitPatterns(g)...)

	e.mu.Lock()
	for _, p := range found {
		if _, exists := e.patterns[p.ID]; !exists {
			e.order = append(e.order, p.ID)
		}
		e.patterns[p.ID] = p
	}
	total := len(e.patterns)
	e.mu.Unlock()

	e.logger.Info("pattern discovery finished",
		slog.Int("constraints", len(list)),
		slog.Int("derived", len(found)),
		slog.Int("stored", total),
	)

	out := make([]*CrossEndpointPattern, len(found))
	for i, p := range found {
		out[i] = p.Clone()
	}
	return out
}

// discoverParameterPatterns finds parameters that carry the same
// constraint kind on two or more distinct endpoints. The pattern is
// only as strong as its weakest evidence, so confidence takes the
// minimum.
func (e *Engine) discoverParameterPatterns(g *Grouping) []*CrossEndpointPattern {
	var out []*CrossEndpointPattern

	for _, param := range sortedGroupKeys(g.ByParameter) {
		members := g.ByParameter[param]
		if len(members) < minSupport {
			continue
		}

		byKind := make(map[constraints.Kind][]*constraints.Constraint)
		for _, c := range members {
			byKind[c.Kind] = append(byKind[c.Kind], c)
		}

		kinds := make([]constraints.Kind, 0, len(byKind))
		for k := range byKind {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

		for _, kind := range kinds {
			group := byKind[kind]
			if len(group) < minSupport || len(endpointSet(group)) < 2 {
				continue
			}

			minConf := group[0].Confidence
			for _, c := range group[1:] {
				if c.Confidence < minConf {
					minConf = c.Confidence
				}
			}

			out = append(out, &CrossEndpointPattern{
				ID:   fmt.Sprintf("param_%s_%s", param, kind),
				Type: TypeParameterValidation,
				Description: fmt.Sprintf(
					"Parameter %q consistently requires %s validation across multiple endpoints",
					param, kind),
				Scope:                 ScopeParameterBased,
				Confidence:            minConf,
				SupportingConstraints: constraintIDs(group),
				AffectedEndpoints:     endpointSet(group),
				AffectedParameters:    parameterSet(group),
				Parameter: &ParameterPayload{
					ParameterName:    param,
					ConstraintKind:   kind,
					ConsistencyScore: 1.0,
				},
				DiscoveredAt: e.now(),
			})
		}
	}
	return out
}

// discoverExclusivityPatterns finds exclusivity signatures (sorted
// fields plus cardinality) recurring across constraints.
func (e *Engine) discoverExclusivityPatterns(g *Grouping) []*CrossEndpointPattern {
	bySignature := make(map[string][]*constraints.Constraint)
	for _, c := range g.Exclusivity {
		if c.Exclusivity == nil {
			continue
		}
		fields := constraints.NormalizeExclusivityFields(c.Exclusivity.Fields)
		sig := fmt.Sprintf("%s_%d_%d",
			strings.Join(fields, "_"), c.Exclusivity.MinRequired, c.Exclusivity.MaxAllowed)
		bySignature[sig] = append(bySignature[sig], c)
	}

	var out []*CrossEndpointPattern
	for _, sig := range sortedGroupKeys(bySignature) {
		group := bySignature[sig]
		if len(group) < minSupport {
			continue
		}

		endpoints := endpointSet(group)
		scope := ScopeParameterBased
		if len(endpoints) > 2 {
			scope = ScopeDomainWide
		}

		out = append(out, &CrossEndpointPattern{
			ID:   "exclusivity_" + sig,
			Type: TypeMutualExclusivity,
			Description: fmt.Sprintf(
				"Mutual exclusivity pattern %q appears across %d endpoints", sig, len(endpoints)),
			Scope:                 scope,
			Confidence:            meanConfidence(group),
			SupportingConstraints: constraintIDs(group),
			AffectedEndpoints:     endpoints,
			AffectedParameters:    parameterSet(group),
			Exclusivity: &ExclusivityPayload{
				Signature:   sig,
				Fields:      constraints.NormalizeExclusivityFields(group[0].Exclusivity.Fields),
				Occurrences: len(group),
			},
			DiscoveredAt: e.now(),
		})
	}
	return out
}

// discoverBusinessPatterns finds business rules sharing a sub-type and
// a numeric value-range key across endpoints. Non-numeric values do
// not form range keys.
func (e *Engine) discoverBusinessPatterns(g *Grouping) []*CrossEndpointPattern {
	byKey := make(map[string][]*constraints.Constraint)
	for _, c := range g.Business {
		if c.Business == nil {
			continue
		}
		valueKey, ok := businessValueKey(c.Business.RuleType, c.Business.Value)
		if !ok {
			continue
		}
		byKey[c.Business.RuleType+"|"+valueKey] = append(byKey[c.Business.RuleType+"|"+valueKey], c)
	}

	var out []*CrossEndpointPattern
	for _, key := range sortedGroupKeys(byKey) {
		group := byKey[key]
		if len(group) < minSupport {
			continue
		}

		ruleType, valueKey, _ := strings.Cut(key, "|")
		endpoints := endpointSet(group)

		out = append(out, &CrossEndpointPattern{
			ID:   fmt.Sprintf("business_rule_%s_%s", ruleType, valueKey),
			Type: TypeBusinessRule,
			Description: fmt.Sprintf(
				"Business rule pattern %q with %q appears across %d endpoints",
				ruleType, valueKey, len(endpoints)),
			Scope:                 ScopeDomainWide,
			Confidence:            meanConfidence(group),
			SupportingConstraints: constraintIDs(group),
			AffectedEndpoints:     endpoints,
			AffectedParameters:    parameterSet(group),
			Business: &BusinessPayload{
				RuleType:    ruleType,
				ValueKey:    valueKey,
				Occurrences: len(group),
			},
			DiscoveredAt: e.now(),
		})
	}
	return out
}

// discoverRateLimitPatterns finds rate limit shapes (budget, window,
// scope) recurring across endpoints.
func (e *Engine) discoverRateLimitPatterns(g *Grouping) []*CrossEndpointPattern {
	byKey := make(map[string][]*constraints.Constraint)
	for _, c := range g.RateLimit {
		if c.RateLimit == nil {
			continue
		}
		key := fmt.Sprintf("%d_%d_%s",
			c.RateLimit.MaxRequests, c.RateLimit.WindowSeconds, c.RateLimit.Scope)
		byKey[key] = append(byKey[key], c)
	}

	var out []*CrossEndpointPattern
	for _, key := range sortedGroupKeys(byKey) {
		group := byKey[key]
		if len(group) < minSupport {
			continue
		}

		rule := group[0].RateLimit
		endpoints := endpointSet(group)
		scope := ScopeDomainWide
		if rule.Scope == "global" {
			scope = ScopeGlobal
		}

		out = append(out, &CrossEndpointPattern{
			ID:   "rate_limit_" + key,
			Type: TypeRateLimiting,
			Description: fmt.Sprintf(
				"Rate limiting pattern (%d requests per %ds, %s) appears across %d endpoints",
				rule.MaxRequests, rule.WindowSeconds, rule.Scope, len(endpoints)),
			Scope:                 scope,
			Confidence:            meanConfidence(group),
			SupportingConstraints: constraintIDs(group),
			AffectedEndpoints:     endpoints,
			AffectedParameters:    parameterSet(group),
			RateLimit: &RateLimitPayload{
				MaxRequests:   rule.MaxRequests,
				WindowSeconds: rule.WindowSeconds,
				Scope:         rule.Scope,
				Occurrences:   len(group),
			},
			DiscoveredAt: e.now(),
		})
	}
	return out
}

// =============================================================================
// Queries
// =============================================================================

// Patterns returns clones of every stored pattern in discovery order.
func (e *Engine) Patterns() []*CrossEndpointPattern {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*CrossEndpointPattern, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.patterns[id].Clone())
	}
	return out
}

// Len returns the number of stored patterns.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.patterns)
}

// Get returns a clone of the pattern with the given ID, or nil.
func (e *Engine) Get(id string) *CrossEndpointPattern {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.patterns[id]
	if !ok {
		return nil
	}
	return p.Clone()
}

// =============================================================================
// Helpers
// =============================================================================

// businessValueKey builds the value-range key for a business rule.
// Only numeric values form keys.
func businessValueKey(ruleType string, value any) (string, bool) {
	num, ok := numericValue(value)
	if !ok {
		return "", false
	}
	switch ruleType {
	case "min_value":
		return "min_" + num, true
	case "max_value":
		return "max_" + num, true
	default:
		return "value_" + num, true
	}
}

// numericValue renders a numeric payload value, integral floats
// without the fraction.
func numericValue(v any) (string, bool) {
	switch t := v.(type) {
	case int:
		return fmt.Sprintf("%d", t), true
	case int64:
		return fmt.Sprintf("%d", t), true
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t)), true
		}
		return fmt.Sprintf("%g", t), true
	default:
		return "", false
	}
}

func meanConfidence(group []*constraints.Constraint) float64 {
	if len(group) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range group {
		sum += c.Confidence
	}
	return sum / float64(len(group))
}

func constraintIDs(group []*constraints.Constraint) []string {
	out := make([]string, len(group))
	for i, c := range group {
		out[i] = c.ID
	}
	return out
}

func endpointSet(group []*constraints.Constraint) []string {
	seen := make(map[string]bool, len(group))
	var out []string
	for _, c := range group {
		if !seen[c.Endpoint] {
			seen[c.Endpoint] = true
			out = append(out, c.Endpoint)
		}
	}
	sort.Strings(out)
	return out
}

func parameterSet(group []*constraints.Constraint) []string {
	seen := make(map[string]bool, len(group))
	var out []string
	for _, c := range group {
		if !seen[c.Parameter] {
			seen[c.Parameter] = true
			out = append(out, c.Parameter)
		}
	}
	sort.Strings(out)
	return out
}

func sortedGroupKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
