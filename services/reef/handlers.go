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
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
)

// Violation rule labels, named after the constraint kinds a learner
// would file them under.
const (
	ruleRequiredField = "required_field"
	ruleConditional   = "conditional_requirement"
	ruleExclusivity   = "mutual_exclusivity"
	ruleFormatDep     = "format_dependency"
	ruleFormat        = "format_validation"
	ruleBusiness      = "business_rule"
	ruleRateLimit     = "rate_limiting"
	ruleMalformedBody = "malformed_body"
)

// bindBody parses the JSON body. A missing, malformed, or empty body
// is rejected the same way, naming no rule.
func (s *Server) bindBody(c *gin.Context, endpoint string) (map[string]any, bool) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 {
		s.reject(c, endpoint, ruleMalformedBody, http.StatusBadRequest,
			"Request body is required")
		return nil, false
	}
	return body, true
}

// reject answers with the violated rule's message and nothing more.
func (s *Server) reject(c *gin.Context, endpoint, rule string, status int, message string) {
	s.metrics.violation(endpoint, rule)
	s.metrics.observe(endpoint, status)
	c.JSON(status, gin.H{"error": message})
}

func (s *Server) created(c *gin.Context, endpoint string, body gin.H) {
	s.metrics.observe(endpoint, http.StatusCreated)
	c.JSON(http.StatusCreated, body)
}

// truthy mirrors presence-and-nonempty checks: empty strings, zero
// numbers, and nulls count as absent.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fallback
}

func intFrom(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

func floatFrom(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func validEmail(v any) bool {
	return strfmt.Default.Validates("email", stringOr(v, ""))
}

// createUser handles POST /api/users, the densest constraint surface.
//
// Hidden rules, checked in order: rate limit, required name and
// username, email required for premium accounts, exactly one of
// email or phone, email format when contact_type is "email", minimum
// age, and the username pattern.
func (s *Server) createUser(c *gin.Context) {
	const endpoint = "/api/users"

	body, ok := s.bindBody(c, endpoint)
	if !ok {
		return
	}

	if !s.limiters.allowUsers() {
		s.metrics.rateLimited.WithLabelValues(endpoint).Inc()
		set := s.rules.Snapshot().Users.RateLimit
		s.reject(c, endpoint, ruleRateLimit, http.StatusTooManyRequests,
			"Rate limit exceeded: maximum "+strconv.Itoa(set.MaxRequests)+
				" requests per "+strconv.Itoa(set.WindowSeconds)+" seconds for user creation")
		return
	}

	if !truthy(body["name"]) {
		s.reject(c, endpoint, ruleRequiredField, http.StatusBadRequest,
			"name field is required")
		return
	}
	if !truthy(body["username"]) {
		s.reject(c, endpoint, ruleRequiredField, http.StatusBadRequest,
			"username field is required")
		return
	}

	if stringOr(body["account_type"], "") == "premium" && !truthy(body["email"]) {
		s.reject(c, endpoint, ruleConditional, http.StatusBadRequest,
			"email is required when account_type is 'premium'")
		return
	}

	hasEmail := truthy(body["email"])
	hasPhone := truthy(body["phone"])
	if hasEmail && hasPhone {
		s.reject(c, endpoint, ruleExclusivity, http.StatusBadRequest,
			"Cannot specify both email and phone. Please provide only one contact method.")
		return
	}
	if !hasEmail && !hasPhone {
		s.reject(c, endpoint, ruleExclusivity, http.StatusBadRequest,
			"Either email or phone must be provided as contact method")
		return
	}

	if stringOr(body["contact_type"], "") == "email" && !validEmail(body["email"]) {
		s.reject(c, endpoint, ruleFormatDep, http.StatusBadRequest,
			"Valid email format required when contact_type is 'email'")
		return
	}

	if ageValue, present := body["age"]; present {
		age, numeric := intFrom(ageValue)
		if !numeric {
			s.reject(c, endpoint, ruleBusiness, http.StatusBadRequest,
				"age must be a valid number")
			return
		}
		if age < s.rules.MinAge() {
			s.reject(c, endpoint, ruleBusiness, http.StatusBadRequest,
				"age must be at least "+strconv.Itoa(s.rules.MinAge())+" for account creation")
			return
		}
	}

	if !s.rules.UsernameOK(stringOr(body["username"], "")) {
		s.reject(c, endpoint, ruleBusiness, http.StatusBadRequest,
			"username must be 3-20 characters and contain only letters, numbers, and underscores")
		return
	}

	contactMethod := "phone"
	if hasEmail {
		contactMethod = "email"
	}
	user := gin.H{
		"id":             123,
		"name":           body["name"],
		"username":       body["username"],
		"account_type":   stringOr(body["account_type"], "basic"),
		"contact_method": contactMethod,
	}
	if hasEmail {
		user["email"] = body["email"]
	}
	if hasPhone {
		user["phone"] = body["phone"]
	}
	s.created(c, endpoint, user)
}

// createOrder handles POST /api/orders.
//
// Hidden rules: rate limit, billing address required for credit card
// payments, and a positive total.
func (s *Server) createOrder(c *gin.Context) {
	const endpoint = "/api/orders"

	body, ok := s.bindBody(c, endpoint)
	if !ok {
		return
	}

	if !s.limiters.allowOrders() {
		s.metrics.rateLimited.WithLabelValues(endpoint).Inc()
		s.reject(c, endpoint, ruleRateLimit, http.StatusTooManyRequests,
			"Rate limit exceeded: maximum "+
				strconv.Itoa(s.rules.Snapshot().Orders.RateLimit.MaxRequests)+" orders per minute")
		return
	}

	if stringOr(body["payment_method"], "") == "credit_card" && !truthy(body["billing_address"]) {
		s.reject(c, endpoint, ruleConditional, http.StatusBadRequest,
			"billing_address is required when payment_method is 'credit_card'")
		return
	}

	if totalValue, present := body["total_amount"]; present {
		total, numeric := floatFrom(totalValue)
		if !numeric {
			s.reject(c, endpoint, ruleBusiness, http.StatusBadRequest,
				"total_amount must be a valid number")
			return
		}
		if total <= 0 {
			s.reject(c, endpoint, ruleBusiness, http.StatusBadRequest,
				"total_amount must be greater than 0")
			return
		}
	}

	total := body["total_amount"]
	if total == nil {
		total = 0
	}
	s.created(c, endpoint, gin.H{
		"id":             456,
		"status":         "created",
		"total_amount":   total,
		"payment_method": stringOr(body["payment_method"], "cash"),
	})
}

// createProduct handles POST /api/products. No rate limit; the only
// hidden rule is the contact email format.
func (s *Server) createProduct(c *gin.Context) {
	const endpoint = "/api/products"

	body, ok := s.bindBody(c, endpoint)
	if !ok {
		return
	}

	if _, present := body["contact_email"]; present && !validEmail(body["contact_email"]) {
		s.reject(c, endpoint, ruleFormat, http.StatusBadRequest,
			"contact_email must be a valid email format")
		return
	}

	name := stringOr(body["name"], "Default Product")
	if name == "" {
		name = "Default Product"
	}
	s.created(c, endpoint, gin.H{
		"id":            789,
		"name":          name,
		"contact_email": body["contact_email"],
		"created_at":    time.Now().UTC().Format(time.RFC3339),
	})
}

// createProfile handles POST /api/profiles. The only hidden rule is
// the required username.
func (s *Server) createProfile(c *gin.Context) {
	const endpoint = "/api/profiles"

	body, ok := s.bindBody(c, endpoint)
	if !ok {
		return
	}

	if !truthy(body["username"]) {
		s.reject(c, endpoint, ruleRequiredField, http.StatusBadRequest,
			"username field is required")
		return
	}

	s.created(c, endpoint, gin.H{
		"id":         101,
		"username":   body["username"],
		"bio":        stringOr(body["bio"], ""),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
}
