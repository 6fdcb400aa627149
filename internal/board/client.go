// Package board implements the resilient client for the external
// work-management API: a GraphQL-style transport with bearer authentication,
// failure classification, conservative batching, rate-limit backoff and
// single-item fallback.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Guizzs26/boardsync/internal/config"
)

// Client is the low-level GraphQL transport. It performs exactly one request
// per call; retries and batching live in the Executor.
type Client struct {
	httpClient *http.Client
	apiURL     string
	token      string
	apiVersion string
	logger     *slog.Logger
}

func NewClient(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if cfg.BoardAPIToken == "" {
		return nil, fmt.Errorf("BOARD_API_TOKEN is not configured")
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		apiURL:     cfg.BoardAPIURL,
		token:      cfg.BoardAPIToken,
		apiVersion: cfg.BoardAPIVersion,
		logger:     logger,
	}, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []graphqlError             `json:"errors"`

	// Legacy flat error shape some endpoints still return with HTTP 200.
	ErrorMessage string `json:"error_message"`
	ErrorCode    string `json:"error_code"`
	StatusCode   int    `json:"status_code"`
}

// Execute posts one GraphQL document and returns the data map keyed by
// selection alias. Both transport failures and error arrays embedded in a
// 200 response are inspected and classified.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any) (map[string]json.RawMessage, error) {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, &APIError{Class: ClassValidation, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, &APIError{Class: ClassValidation, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("API-Version", c.apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Class: classifyTransport(err), Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &APIError{Class: ClassNetwork, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Class:      classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    truncate(string(raw), 500),
		}
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &APIError{Class: ClassUnknown, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if len(parsed.Errors) > 0 {
		first := parsed.Errors[0]
		return nil, &APIError{
			Class:      classifyEmbedded(first.Extensions.Code, first.Message),
			StatusCode: resp.StatusCode,
			Message:    first.Message,
		}
	}
	if parsed.ErrorMessage != "" {
		return nil, &APIError{
			Class:      classifyEmbedded(parsed.ErrorCode, parsed.ErrorMessage),
			StatusCode: parsed.StatusCode,
			Message:    parsed.ErrorMessage,
		}
	}

	return parsed.Data, nil
}

// entityID extracts the opaque id from one aliased selection result.
func entityID(data map[string]json.RawMessage, alias string) (string, error) {
	raw, ok := data[alias]
	if !ok || string(raw) == "null" {
		return "", &APIError{Class: ClassUnknown, Message: fmt.Sprintf("response missing selection %q", alias)}
	}
	var entity struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &entity); err != nil {
		return "", &APIError{Class: ClassUnknown, Message: fmt.Sprintf("parse selection %q: %v", alias, err)}
	}
	if entity.ID == "" {
		return "", &APIError{Class: ClassUnknown, Message: fmt.Sprintf("selection %q has no id", alias)}
	}
	return entity.ID, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
