// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package constraints

import (
	"log/slog"

	"github.com/AleutianAI/Sounder/services/engine/specdoc"
)

// PublicationThreshold is the fixed confidence a constraint needs
// before it is published into the enhanced spec view.
const PublicationThreshold = 0.7

// EnhancedView renders the base spec with x-learned-rules annotations.
//
// Description:
//
//	Clones the document and attaches every constraint at or above the
//	publication threshold. Parameter-scoped rules attach to their
//	parameter entry; rules whose parameter is absent from the spec, and
//	endpoint-spanning rules (exclusivity, rate limits), attach at the
//	endpoint level. Constraints on endpoints the spec does not declare
//	are skipped.
//
// Inputs:
//
//	doc - The base API description. Not modified.
//
// Outputs:
//
//	*specdoc.Document - Annotated clone.
func (m *Model) EnhancedView(doc *specdoc.Document) *specdoc.Document {
	out := doc.Clone()

	for _, c := range m.AboveConfidence(PublicationThreshold) {
		ep := out.FindEndpoint(c.Endpoint)
		if ep == nil {
			m.logger.Debug("constraint endpoint not in spec, skipping",
				slog.String("endpoint", c.Endpoint),
				slog.String("parameter", c.Parameter),
			)
			continue
		}

		rule := specdoc.LearnedRule{
			Kind:        c.Kind.String(),
			Description: c.Description,
			Confidence:  c.Confidence,
			Detail:      c.ruleDetail(),
		}

		if c.spansEndpoint() {
			ep.LearnedRules = append(ep.LearnedRules, rule)
			continue
		}
		if p := ep.FindParameter(c.Parameter); p != nil {
			p.LearnedRules = append(p.LearnedRules, rule)
		} else {
			ep.LearnedRules = append(ep.LearnedRules, rule)
		}
	}
	return out
}

// CountPublishable returns how many constraints clear the publication
// threshold.
func (m *Model) CountPublishable() int {
	return len(m.AboveConfidence(PublicationThreshold))
}

// spansEndpoint reports whether the rule governs the whole request
// rather than a single parameter.
func (c *Constraint) spansEndpoint() bool {
	return c.Kind == KindMutualExclusivity || c.Kind == KindRateLimiting
}

// ruleDetail flattens the payload into the vendor-extension detail map.
func (c *Constraint) ruleDetail() map[string]any {
	switch c.Kind {
	case KindFormatValidation:
		if c.Format != nil {
			return map[string]any{"format": c.Format.Format}
		}
	case KindConditionalRequirement:
		if r := c.Conditional; r != nil {
			detail := map[string]any{
				"condition_field":    r.ConditionField,
				"condition_operator": r.ConditionOperator,
				"condition_value":    r.ConditionValue,
				"required_field":     r.RequiredField,
			}
			if r.RequiredValue != nil {
				detail["required_value"] = r.RequiredValue
			}
			return detail
		}
	case KindMutualExclusivity:
		if r := c.Exclusivity; r != nil {
			return map[string]any{
				"fields":       NormalizeExclusivityFields(r.Fields),
				"min_required": r.MinRequired,
				"max_allowed":  r.MaxAllowed,
			}
		}
	case KindFormatDependency:
		if r := c.FormatDependency; r != nil {
			return map[string]any{
				"condition_field": r.ConditionField,
				"condition_value": r.ConditionValue,
				"target_field":    r.TargetField,
				"format":          r.Format,
			}
		}
	case KindBusinessRule:
		if r := c.Business; r != nil {
			return map[string]any{
				"rule_type": r.RuleType,
				"value":     r.Value,
			}
		}
	case KindRateLimiting:
		if r := c.RateLimit; r != nil {
			return map[string]any{
				"max_requests":   r.MaxRequests,
				"window_seconds": r.WindowSeconds,
				"scope":          r.Scope,
			}
		}
	case KindValueConstraint:
		if r := c.Value; r != nil {
			return map[string]any{
				"operator": r.Operator,
				"value":    r.Value,
			}
		}
	}
	return nil
}
