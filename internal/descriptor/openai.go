package descriptor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sashabaranov/go-openai"

	"github.com/toolrouter/toolrouterd/internal/subprocess"
)

// serverDescriptionSchema is the JSON Schema an LLM-produced server
// description must validate against before it is accepted.
const serverDescriptionSchema = `{
	"type": "object",
	"required": ["title", "summary", "capabilities", "limitations"],
	"properties": {
		"title": {"type": "string", "minLength": 1},
		"summary": {"type": "string", "minLength": 1},
		"capabilities": {"type": "array", "items": {"type": "string"}},
		"limitations": {"type": "array", "items": {"type": "string"}}
	}
}`

// schemaCache compiles serverDescriptionSchema once and reuses it, following
// the compile-then-cache pattern used elsewhere in this module for schema
// validation.
var schemaCache = struct {
	once sync.Once
	v    *jsonschema.Schema
	err  error
}{}

func compiledServerDescriptionSchema() (*jsonschema.Schema, error) {
	schemaCache.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("server-description.json", strings.NewReader(serverDescriptionSchema)); err != nil {
			schemaCache.err = err
			return
		}
		schemaCache.v, schemaCache.err = compiler.Compile("server-description.json")
	})
	return schemaCache.v, schemaCache.err
}

// OpenAIService implements Describer and Enhancer with OpenAI chat
// completions.
type OpenAIService struct {
	client *openai.Client
	model  string
}

var (
	_ Describer = (*OpenAIService)(nil)
	_ Enhancer  = (*OpenAIService)(nil)
)

// OpenAIConfig configures the OpenAI descriptor service.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string // e.g. gpt-4o-mini
}

// NewOpenAIService creates an OpenAI-backed descriptor/enhancer service.
func NewOpenAIService(cfg OpenAIConfig) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIService{client: openai.NewClientWithConfig(config), model: cfg.Model}, nil
}

// DescribeServer connects to the tool server, lists its tools, and asks the
// model for a JSON-shaped summary, validated against serverDescriptionSchema.
func (s *OpenAIService) DescribeServer(ctx context.Context, serverName string, spec *subprocess.StartupSpec) (*ServerBundle, error) {
	session := subprocess.NewSession(serverName, spec, nil)
	if _, err := session.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %q: %w", serverName, err)
	}
	defer session.Close()

	tools, err := session.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools for %q: %w", serverName, err)
	}

	rawTools := make([]RawTool, len(tools))
	toolNames := make([]string, len(tools))
	for i, t := range tools {
		rawTools[i] = RawTool{Name: t.Name, Description: t.Description, Schema: t.InputSchema}
		toolNames[i] = t.Name
	}

	prompt := fmt.Sprintf(
		"Server %q exposes the following tools: %v. Respond with a JSON object "+
			"with fields title, summary, capabilities (array of strings), "+
			"limitations (array of strings) describing this tool server as a whole.",
		serverName, toolNames)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("describe server %q: %w", serverName, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("describe server %q: empty response", serverName)
	}

	var desc ServerDescription
	raw := []byte(resp.Choices[0].Message.Content)
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("parse server description for %q: %w", serverName, err)
	}
	if err := validateServerDescription(raw); err != nil {
		return nil, fmt.Errorf("invalid server description for %q: %w", serverName, err)
	}

	return &ServerBundle{Description: desc, Tools: rawTools}, nil
}

// EnhanceTool asks the model to rewrite a tool's description for embedding
// quality, given its name and input schema.
func (s *OpenAIService) EnhanceTool(ctx context.Context, serverName, toolName, description string, schema json.RawMessage) (string, error) {
	prompt := fmt.Sprintf(
		"Tool %q on server %q has description %q and input schema %s. "+
			"Rewrite the description in one or two sentences that make its purpose "+
			"and inputs clear for semantic search. Respond with plain text only.",
		toolName, serverName, description, string(schema))

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("enhance tool %q/%q: %w", serverName, toolName, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("enhance tool %q/%q: empty response", serverName, toolName)
	}
	return resp.Choices[0].Message.Content, nil
}

func validateServerDescription(raw json.RawMessage) error {
	schema, err := compiledServerDescriptionSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}
