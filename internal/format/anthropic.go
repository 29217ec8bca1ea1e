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

type AnthropicClient struct {
    http    *http.Client
    baseURL string
    apiKey  string
    model   string
}

func NewAnthropicClient(baseURL, apiKey, model string, hc *http.Client) *AnthropicClient {
    if hc == nil { hc = &http.Client{} }
    if baseURL == "" { baseURL = "https://api.anthropic.com" }
    return &AnthropicClient{http: hc, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model}
}

func (c *AnthropicClient) Name() string  { return "anthropic" }
func (c *AnthropicClient) Model() string { return c.model }

type anthropicMsg struct {
    Role    string `json:"role"`
    Content string `json:"content"`
}

type anthropicMsgReq struct {
    Model       string         `json:"model"`
    System      string         `json:"system,omitempty"`
    MaxTokens   int            `json:"max_tokens"`
    Temperature float64        `json:"temperature"`
    Messages    []anthropicMsg `json:"messages"`
}

type anthropicMsgResp struct {
    Content []struct{ Text string `json:"text"` } `json:"content"`
    Usage   struct {
        InputTokens  int `json:"input_tokens"`
        OutputTokens int `json:"output_tokens"`
    } `json:"usage"`
}

func (c *AnthropicClient) Do(ctx context.Context, req Request) (Response, error) {
    if c.apiKey == "" { return Response{}, fmt.Errorf("anthropic: %w", ErrMissingKey) }
    model := req.Model
    if model == "" { model = c.model }
    maxTokens := req.MaxTokens
    if maxTokens <= 0 { maxTokens = 1024 }
    payload := anthropicMsgReq{
        Model:       model,
        System:      req.SystemPrompt,
        MaxTokens:   maxTokens,
        Temperature: req.Temperature,
        Messages:    []anthropicMsg{{Role: "user", Content: req.UserPrompt}},
    }
    body, err := json.Marshal(payload)
    if err != nil { return Response{}, err }
    httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
    if err != nil { return Response{}, err }
    httpReq.Header.Set("x-api-key", c.apiKey)
    httpReq.Header.Set("anthropic-version", "2023-06-01")
    httpReq.Header.Set("Content-Type", "application/json")
    resp, err := c.http.Do(httpReq)
    if err != nil { return Response{}, err }
    defer resp.Body.Close()
    if resp.StatusCode == http.StatusTooManyRequests { return Response{}, ErrRateLimited }
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
        return Response{}, &HTTPError{StatusCode: resp.StatusCode, Body: string(b), Provider: c.Name()}
    }
    var r anthropicMsgResp
    if err := json.NewDecoder(resp.Body).Decode(&r); err != nil { return Response{}, fmt.Errorf("decode anthropic response: %w", err) }
    if len(r.Content) == 0 || r.Content[0].Text == "" { return Response{}, ErrNoContent }
    return Response{Text: r.Content[0].Text, TokensIn: r.Usage.InputTokens, TokensOut: r.Usage.OutputTokens}, nil
}
