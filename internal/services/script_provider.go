package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/reelworks/sportsreel-backend/internal/logger"
)

// ScriptResult is the script provider's artifact bundle for one reel.
type ScriptResult struct {
	Text        string   `json:"text"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
	TokensUsed  int      `json:"tokens_used"`
}

type ScriptProviderService interface {
	GenerateScript(ctx context.Context, req GenerationRequest) (*ScriptResult, error)
}

type scriptProviderService struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	maxRetries  int
	temperature float64
}

func NewScriptProviderService(log *logger.Logger) (ScriptProviderService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
	}

	timeoutSec := 120
	if v := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 4
	if v := strings.TrimSpace(os.Getenv("OPENAI_MAX_RETRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &scriptProviderService{
		log:         log.With("service", "ScriptProviderService"),
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries:  maxRetries,
		temperature: 0.7,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type scriptPayload struct {
	Script      string   `json:"script"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
}

func (s *scriptProviderService) GenerateScript(ctx context.Context, req GenerationRequest) (*ScriptResult, error) {
	system := "You are a sports video scriptwriter. You write short, energetic " +
		"narration scripts for highlight reels about athletes. Respond with a JSON " +
		"object containing: script (the narration text only, no stage directions), " +
		"title (a catchy reel title), description (one or two sentences), and " +
		"hashtags (an array of 3-6 tags without the # prefix)."

	var b strings.Builder
	fmt.Fprintf(&b, "Write a narration script of roughly %d seconds when read aloud about %s, a %s athlete.\n",
		req.DurationSeconds, req.AthleteName, req.Sport)
	if bio := strings.TrimSpace(req.Biography); bio != "" {
		fmt.Fprintf(&b, "Background: %s\n", bio)
	}
	if len(req.Achievements) > 0 {
		fmt.Fprintf(&b, "Key achievements: %s\n", strings.Join(req.Achievements, "; "))
	}
	if ci := strings.TrimSpace(req.CustomInstructions); ci != "" {
		fmt.Fprintf(&b, "Additional instructions: %s\n", ci)
	}

	body := chatCompletionRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: b.String()},
		},
		Temperature: s.temperature,
		ResponseFormat: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	}

	var resp chatCompletionResponse
	if err := s.do(ctx, "/v1/chat/completions", body, &resp); err != nil {
		return nil, fmt.Errorf("script generation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("script generation: empty choices in response")
	}

	var payload scriptPayload
	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		// Some models wrap JSON in a code fence despite response_format.
		trimmed := strings.TrimPrefix(strings.TrimSuffix(raw, "```"), "```json")
		if err2 := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), &payload); err2 != nil {
			return nil, fmt.Errorf("script generation: decode payload: %w; raw=%s", err, truncateForLog(raw, 200))
		}
	}
	if strings.TrimSpace(payload.Script) == "" {
		return nil, fmt.Errorf("script generation: provider returned empty script")
	}

	return &ScriptResult{
		Text:        strings.TrimSpace(payload.Script),
		Title:       strings.TrimSpace(payload.Title),
		Description: strings.TrimSpace(payload.Description),
		Hashtags:    payload.Hashtags,
		TokensUsed:  resp.Usage.TotalTokens,
	}, nil
}

type providerHTTPError struct {
	StatusCode int
	Body       string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("script provider http %d: %s", e.StatusCode, truncateForLog(e.Body, 300))
}

func (e *providerHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (s *scriptProviderService) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &providerHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (s *scriptProviderService) do(ctx context.Context, path string, body any, out any) error {
	backoff := 1 * time.Second
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := s.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("decode response: %w", uErr)
			}
			return nil
		}
		lastErr = err

		if !ClassifyProviderError(err).Retryable() || attempt == s.maxRetries {
			return err
		}

		sleepFor := retryAfterDuration(resp, backoff, 10*time.Second)
		s.log.Warn("Script provider request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", s.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return lastErr
}

// retryAfterDuration honors a Retry-After header when the provider sends
// one, otherwise uses the backoff value, jittered and capped.
func retryAfterDuration(resp *http.Response, backoff, max time.Duration) time.Duration {
	d := backoff
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				d = time.Duration(secs) * time.Second
			}
		}
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
