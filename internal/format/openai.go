package format

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "strings"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (OpenRouter, Groq, OpenAI).
type OpenAIClient struct {
    http    *http.Client
    baseURL string
    apiKey  string
    model   string
    referer string
}

func NewOpenAIClient(baseURL, apiKey, model, referer string, hc *http.Client) *OpenAIClient {
    if hc == nil { hc = &http.Client{} }
    if baseURL == "" { baseURL = "https://api.openai.com/v1" }
    return &OpenAIClient{http: hc, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model, referer: referer}
}

func (c *OpenAIClient) Name() string  { return "openai" }
func (c *OpenAIClient) Model() string { return c.model }

type openAIMessage struct {
    Role    string `json:"role"`
    Content string `json:"content"`
}

type openAIChatReq struct {
    Model       string          `json:"model"`
    Messages    []openAIMessage `json:"messages"`
    Temperature float64         `json:"temperature"`
    MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResp struct {
    Choices []struct {
        Message struct {
            Content string `json:"content"`
        } `json:"message"`
    } `json:"choices"`
    Usage struct {
        PromptTokens     int `json:"prompt_tokens"`
        CompletionTokens int `json:"completion_tokens"`
    } `json:"usage"`
}

func (c *OpenAIClient) Do(ctx context.Context, req Request) (Response, error) {
    if c.apiKey == "" {
        return Response{}, fmt.Errorf("openai: %w", ErrMissingKey)
    }
    model := req.Model
    if model == "" { model = c.model }

    var messages []openAIMessage
    if req.SystemPrompt != "" {
        messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
    }
    messages = append(messages, openAIMessage{Role: "user", Content: req.UserPrompt})

    body, err := json.Marshal(openAIChatReq{Model: model, Messages: messages, Temperature: req.Temperature, MaxTokens: req.MaxTokens})
    if err != nil { return Response{}, err }
    httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
    if err != nil { return Response{}, err }
    httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
    httpReq.Header.Set("Content-Type", "application/json")
    if c.referer != "" { httpReq.Header.Set("HTTP-Referer", c.referer) }

    resp, err := c.http.Do(httpReq)
    if err != nil {
        return Response{}, err
    }
    defer resp.Body.Close()

    if resp.StatusCode == http.StatusTooManyRequests {
        return Response{}, ErrRateLimited
    }
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
        return Response{}, &HTTPError{StatusCode: resp.StatusCode, Body: string(b), Provider: c.Name()}
    }

    var r openAIChatResp
    if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
        return Response{}, fmt.Errorf("decode openai response: %w", err)
    }
    if len(r.Choices) == 0 || r.Choices[0].Message.Content == "" {
        return Response{}, ErrNoContent
    }
    return Response{
        Text:      r.Choices[0].Message.Content,
        TokensIn:  r.Usage.PromptTokens,
        TokensOut: r.Usage.CompletionTokens,
    }, nil
}
