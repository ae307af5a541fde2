package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client calls the machine-translation service over HTTP.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

type translateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type translateResponse struct {
	Translation string `json:"translation"`
	Error       string `json:"error,omitempty"`
}

// NewClient builds a translation client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Translate maps text from srcLang to dstLang. Identical languages
// short-circuit without a network call.
func (c *Client) Translate(ctx context.Context, text, srcLang, dstLang string) (string, error) {
	if strings.TrimSpace(text) == "" || srcLang == dstLang {
		return text, nil
	}

	reqBody, _ := json.Marshal(translateRequest{Text: text, SourceLang: srcLang, TargetLang: dstLang})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/translate", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("translate: status=%d body=%s", resp.StatusCode, string(b))
	}

	var tr translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("translate: decode: %w", err)
	}
	if tr.Error != "" {
		return "", fmt.Errorf("translate: %s", tr.Error)
	}
	return strings.TrimSpace(tr.Translation), nil
}
