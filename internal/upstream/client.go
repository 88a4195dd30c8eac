package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"personachat/internal/conversation"
	"personachat/internal/metrics"
)

const (
	endpointGenerate        = "generate"
	endpointCharacters      = "characters"
	endpointSelectCharacter = "select_character"

	maxResponseBytes = 4 << 20
)

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	SelectTimeout time.Duration
	MaxNewTokens  int
	Temperature   float64
	HTTPClient    *http.Client
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

// Client talks to the external generation service. Every method makes at
// most one attempt.
type Client struct {
	cfg     Config
	metrics *metrics.Metrics
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SelectTimeout <= 0 {
		cfg.SelectTimeout = cfg.Timeout
	}
	if cfg.MaxNewTokens <= 0 {
		cfg.MaxNewTokens = 1024
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1.0
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Client{cfg: cfg, metrics: m}
}

type generateRequest struct {
	InputText    []conversation.Turn `json:"input_text"`
	MaxNewTokens int                 `json:"max_new_tokens"`
	Temperature  float64             `json:"temperature"`
}

type generateResponse struct {
	GeneratedText *string `json:"generated_text"`
	Character     string  `json:"character"`
	Action        string  `json:"action"`
}

// Generate sends history plus the new user message and classifies the
// outcome. It never returns an error; failures are reported through Kind.
func (c *Client) Generate(ctx context.Context, history []conversation.Turn, message string) Result {
	turns := make([]conversation.Turn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, conversation.UserTurn(message))

	res := c.generate(ctx, generateRequest{
		InputText:    turns,
		MaxNewTokens: c.cfg.MaxNewTokens,
		Temperature:  c.cfg.Temperature,
	})
	c.metrics.UpstreamRequests.WithLabelValues(endpointGenerate, res.Kind.String()).Inc()

	ev := c.cfg.Logger.Info()
	if !res.OK() {
		ev = c.cfg.Logger.Warn().Err(res.Err)
	}
	ev.Str("endpoint", endpointGenerate).
		Str("kind", res.Kind.String()).
		Int("status", res.StatusCode).
		Int("turns", len(turns)).
		Msg("generation request finished")
	return res
}

func (c *Client) generate(ctx context.Context, payload generateRequest) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Kind: KindTransport, Err: fmt.Errorf("marshal generate payload: %w", err)}
	}
	c.cfg.Logger.Debug().RawJSON("payload", body).Msg("generation request")

	status, respBody, err := c.do(ctx, http.MethodPost, endpointGenerate, body)
	if err != nil {
		return Result{Kind: classifyTransport(err), Err: err}
	}

	if status != http.StatusOK {
		if status == http.StatusUnprocessableEntity {
			c.cfg.Logger.Debug().Bytes("detail", respBody).Msg("generation request rejected by validation")
		}
		return Result{
			Kind:       KindBadStatus,
			StatusCode: status,
			Err:        &StatusError{Endpoint: endpointGenerate, Code: status, Body: snippet(respBody)},
		}
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Result{Kind: KindParseError, StatusCode: status, Err: fmt.Errorf("decode generate response: %w", err)}
	}
	if out.GeneratedText == nil || strings.TrimSpace(*out.GeneratedText) == "" {
		return Result{Kind: KindEmpty, StatusCode: status, Err: fmt.Errorf("generate response has no generated_text")}
	}
	return Result{
		Kind:       KindSuccess,
		Text:       *out.GeneratedText,
		Character:  out.Character,
		Action:     out.Action,
		StatusCode: status,
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (int, []byte, error) {
	endpointURL, err := c.endpointURL(endpoint)
	if err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpointURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	return resp.StatusCode, b, nil
}

func (c *Client) endpointURL(endpoint string) (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("upstream base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + endpoint
	return u.String(), nil
}

// StatusError reports a non-200 answer from the service.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Endpoint, e.Code, e.Body)
}

func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if r := []rune(s); len(r) > 200 {
		return string(r[:200])
	}
	return s
}
