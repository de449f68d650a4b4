package generation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"mcpforge/internal/forge"
)

type fakeMessages struct {
	reply  *anthropic.Message
	err    error
	params []anthropic.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = append(f.params, body)
	return f.reply, f.err
}

func textMessage(text string) *anthropic.Message {
	return &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: text}}}
}

const packageReply = "<file path=\"Dockerfile\">\nFROM python:3.12-slim\n</file>\n<file path=\"entrypoint.sh\">\n#!/bin/sh\n</file>"

func TestLLMGeneratorTemperatures(t *testing.T) {
	var got []completion
	g := newLLMGenerator(&fakeMessages{})
	g.completeFn = func(_ context.Context, req completion) (string, error) {
		got = append(got, req)
		return packageReply, nil
	}

	art, err := g.Generate(t.Context(), "deploy git", []forge.Descriptor{gitDoc})
	if err != nil {
		t.Fatal(err)
	}
	if art.Kind() != forge.ArtifactPackage || len(art.Files) != 2 {
		t.Fatalf("artifact = %+v", art)
	}
	failures := []forge.AttemptRecord{{AttemptNumber: 1, Status: forge.StatusBuildError, Logs: "pip failed"}}
	if _, err := g.Regenerate(t.Context(), "deploy git", []forge.Descriptor{gitDoc}, art, failures); err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("completions = %d", len(got))
	}
	if got[0].Temperature != DefaultGenerateTemperature || got[1].Temperature != DefaultRegenerateTemperature {
		t.Fatalf("temperatures = %v, %v", got[0].Temperature, got[1].Temperature)
	}
	if !strings.Contains(got[1].Prompt, "pip failed") || !strings.Contains(got[0].System, "Dockerfile") {
		t.Fatal("prompts not rendered")
	}
}

func TestLLMGeneratorReturnsPackageWithoutBuildDefinition(t *testing.T) {
	g := newLLMGenerator(&fakeMessages{})
	g.completeFn = func(context.Context, completion) (string, error) {
		return "<file path=\"entrypoint.sh\">\n#!/bin/sh\nexec server\n</file>", nil
	}
	art, err := g.Generate(t.Context(), "q", []forge.Descriptor{gitDoc})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if art.Kind() != forge.ArtifactPackage || art.Files["entrypoint.sh"] == "" {
		t.Fatalf("artifact = %+v", art)
	}
	if err := art.Validate(); !errors.Is(err, forge.ErrMalformedArtifact) {
		t.Fatalf("Validate() = %v, want ErrMalformedArtifact", err)
	}
}

func TestLLMGeneratorEmptyReplyIsError(t *testing.T) {
	g := newLLMGenerator(&fakeMessages{})
	g.completeFn = func(context.Context, completion) (string, error) { return "  \n", nil }
	if _, err := g.Generate(t.Context(), "q", []forge.Descriptor{gitDoc}); err == nil {
		t.Fatal("expected error for empty reply")
	}
}

func TestLLMGeneratorCallsMessagesAPI(t *testing.T) {
	api := &fakeMessages{reply: textMessage("```dockerfile\nFROM alpine\n```")}
	g := newLLMGenerator(api, WithModel("claude-test"), WithMaxTokens(512))

	art, err := g.Generate(t.Context(), "deploy git", []forge.Descriptor{gitDoc})
	if err != nil {
		t.Fatal(err)
	}
	if art.Files["Dockerfile"] != "FROM alpine\n" {
		t.Fatalf("artifact = %+v", art)
	}
	p := api.params[0]
	if string(p.Model) != "claude-test" || p.MaxTokens != 512 {
		t.Fatalf("params model = %q, max tokens = %d", p.Model, p.MaxTokens)
	}
	if len(p.System) != 1 || !strings.Contains(p.System[0].Text, "MCP") || len(p.Messages) != 1 {
		t.Fatalf("params = %+v", p)
	}
}

func TestLLMGeneratorErrors(t *testing.T) {
	api := &fakeMessages{err: errors.New("529 overloaded")}
	g := newLLMGenerator(api)
	if _, err := g.Generate(t.Context(), "q", []forge.Descriptor{gitDoc}); err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("Generate() error = %v", err)
	}

	api.err = nil
	api.reply = &anthropic.Message{}
	if _, err := g.Generate(t.Context(), "q", []forge.Descriptor{gitDoc}); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestNewAnthropicRequiresKey(t *testing.T) {
	if _, err := NewAnthropic(" "); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewAnthropic("sk-test"); err != nil {
		t.Fatal(err)
	}
}
