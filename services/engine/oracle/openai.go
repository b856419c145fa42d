// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
	openai "github.com/sashabaranov/go-openai"
)

// openaiSecretPath is where container deployments mount the API key.
const openaiSecretPath = "/run/secrets/openai_api_key"

// defaultOpenAIModel is used when no model is configured.
const defaultOpenAIModel = "gpt-4o-mini"

// systemRole frames every OpenAI generation.
const systemRole = "You are a precise API testing analyst. You respond with exactly the structured output the user asks for."

// SealedOpenAIKey reads the OpenAI API key from the environment
// (SOUNDER_OPENAI_API_KEY, then OPENAI_API_KEY) or the container
// secret path and seals it in an enclave. The key stays sealed until
// client construction.
func SealedOpenAIKey() (*memguard.Enclave, error) {
	for _, name := range []string{"SOUNDER_OPENAI_API_KEY", "OPENAI_API_KEY"} {
		if val := os.Getenv(name); val != "" {
			return memguard.NewEnclave([]byte(val)), nil
		}
	}
	raw, err := os.ReadFile(openaiSecretPath)
	if err == nil {
		slog.Info("read OpenAI API key from container secret", slog.String("path", openaiSecretPath))
		return memguard.NewEnclave([]byte(strings.TrimSpace(string(raw)))), nil
	}
	return nil, fmt.Errorf("no OpenAI API key: set SOUNDER_OPENAI_API_KEY or mount %s", openaiSecretPath)
}

// OpenAIClient generates text through the OpenAI chat completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds an OpenAI backend from a sealed key. The
// enclave's plaintext is unsealed only for the duration of client
// construction and wiped immediately after.
func NewOpenAIClient(model string, key *memguard.Enclave) (*OpenAIClient, error) {
	if key == nil {
		return nil, fmt.Errorf("no sealed OpenAI API key provided")
	}
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("no OpenAI model configured, defaulting", slog.String("model", model))
	}

	buf, err := key.Open()
	if err != nil {
		return nil, fmt.Errorf("unsealing OpenAI API key: %w", err)
	}
	token := string(buf.Bytes())
	buf.Destroy()

	slog.Info("initializing OpenAI oracle backend", slog.String("model", model))
	return &OpenAIClient{
		client: openai.NewClient(token),
		model:  model,
	}, nil
}

// Generate implements the Client interface.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	slog.Debug("generating via OpenAI", slog.String("model", o.model))

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemRole},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	slog.Debug("received OpenAI response",
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message.Content, nil
}
