package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ferro-labs/chatproxy/internal/secret"
)

// Defaults applied when OpenAISettings leaves a field empty.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultSystemPrompt  = "You are a helpful assistant."
	DefaultTemperature   = 0.7
	DefaultTimeout       = 100 * time.Second

	// OpenAIAPIKeyEnv is consulted when no API key is configured.
	OpenAIAPIKeyEnv = "OPENAI_API_KEY"

	projectKeyPrefix = "sk-proj-"
	projectHeader    = "OpenAI-Project"
)

// OpenAISettings configures an OpenAI-compatible chat completions upstream.
type OpenAISettings struct {
	APIKey             string
	Project            string
	BaseURL            string
	Model              string
	DefaultSystem      string
	DefaultTemperature *float64
	Timeout            time.Duration
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// OpenAIProvider calls POST {baseURL}/chat/completions on an OpenAI-compatible
// API. The shared client carries no credentials; the API key and project
// header are passed as per-call options.
type OpenAIProvider struct {
	Base
	apiKey        string
	project       string
	model         string
	defaultSystem string
	defaultTemp   float64
	client        openai.Client
}

// NewOpenAI creates a provider from settings. A missing API key is not an
// error here; Complete reports it on first use.
func NewOpenAI(s OpenAISettings) (*OpenAIProvider, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("invalid upstream base URL %q: scheme must be http or https", s.BaseURL)
	}
	model := strings.TrimSpace(s.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	system := strings.TrimSpace(s.DefaultSystem)
	if system == "" {
		system = DefaultSystemPrompt
	}
	temp := DefaultTemperature
	if s.DefaultTemperature != nil {
		temp = *s.DefaultTemperature
	}
	client := s.HTTPClient
	if client == nil {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	sdk := openai.NewClient(
		option.WithBaseURL(baseURL+"/"),
		option.WithHTTPClient(client),
		option.WithMaxRetries(0),
	)
	return &OpenAIProvider{
		Base:          Base{name: "openai", baseURL: baseURL},
		apiKey:        s.APIKey,
		project:       strings.TrimSpace(s.Project),
		model:         model,
		defaultSystem: system,
		defaultTemp:   temp,
		client:        sdk,
	}, nil
}

// Model returns the configured upstream model name.
func (p *OpenAIProvider) Model() string { return p.model }

// Complete sends one chat completion request. Non-2xx responses are returned
// as *UpstreamError with the raw body; nothing is retried.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt Prompt) (*Result, error) {
	apiKey, err := secret.Resolve("upstream.api_key", p.apiKey, OpenAIAPIKeyEnv)
	if err != nil {
		return nil, err
	}

	var httpResp *http.Response
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithResponseInto(&httpResp),
	}
	if p.project != "" && hasProjectKeyPrefix(apiKey) {
		opts = append(opts, option.WithProject(p.project))
	} else {
		opts = append(opts, option.WithHeaderDel(projectHeader))
	}

	started := time.Now()
	completion, err := p.client.Chat.Completions.New(ctx, p.buildParams(prompt), opts...)
	elapsed := time.Since(started)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s request aborted: %w", p.name, ctxErr)
		}
		return nil, p.upstreamError(httpResp, err)
	}
	if len(completion.Choices) == 0 {
		status := http.StatusOK
		if httpResp != nil {
			status = httpResp.StatusCode
		}
		return nil, &UpstreamError{
			Provider:   p.name,
			StatusCode: status,
			Body:       completion.RawJSON(),
			Err:        errors.New("response contains no choices"),
		}
	}

	model := completion.Model
	if model == "" {
		model = UnknownModel
	}
	return &Result{
		Text:          completion.Choices[0].Message.Content,
		Model:         model,
		ElapsedMillis: elapsed.Milliseconds(),
	}, nil
}

// buildParams converts a Prompt into the SDK request type, filling defaults.
func (p *OpenAIProvider) buildParams(prompt Prompt) openai.ChatCompletionNewParams {
	system := p.defaultSystem
	if prompt.System != nil && strings.TrimSpace(*prompt.System) != "" {
		system = *prompt.System
	}
	temp := p.defaultTemp
	if prompt.Temperature != nil {
		temp = *prompt.Temperature
	}
	return openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt.Prompt),
		},
		Temperature: openai.Float(temp),
	}
}

// upstreamError maps an SDK failure to *UpstreamError. Error responses keep
// the raw body; the SDK buffers it back into the response after reading.
func (p *OpenAIProvider) upstreamError(resp *http.Response, err error) *UpstreamError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		resp = apiErr.Response
	}
	upErr := &UpstreamError{Provider: p.name}
	if resp == nil {
		upErr.Err = err
		return upErr
	}
	upErr.StatusCode = resp.StatusCode
	if resp.StatusCode >= 400 && resp.Body != nil {
		if raw, readErr := io.ReadAll(resp.Body); readErr == nil {
			upErr.Body = string(raw)
			return upErr
		}
	}
	upErr.Err = err
	return upErr
}

func hasProjectKeyPrefix(key string) bool {
	return len(key) >= len(projectKeyPrefix) && strings.EqualFold(key[:len(projectKeyPrefix)], projectKeyPrefix)
}
