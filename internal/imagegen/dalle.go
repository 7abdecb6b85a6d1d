package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nidhogg/agent-interview/internal/provider"
	"go.uber.org/zap"
)

// DallE generates images with DALL-E 3 through the OpenAI images API.
type DallE struct {
	key      string
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewDallE creates a DALL-E 3 generator.
func NewDallE(key, endpoint string, client *http.Client, logger *zap.Logger) *DallE {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	return &DallE{key: key, endpoint: endpoint, client: client, logger: logger}
}

// Generate renders one 1024x1024 hd image. Size classes and seeds are not
// supported by the API and are ignored.
func (d *DallE) Generate(ctx context.Context, req Request) (*Image, error) {
	body, err := json.Marshal(map[string]any{
		"prompt":          req.Prompt,
		"model":           "dall-e-3",
		"size":            "1024x1024",
		"quality":         "hd",
		"n":               1,
		"response_format": "b64_json",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.endpoint+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.key)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &provider.APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("openai returned no images")
	}
	data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	d.logger.Debug("dall-e image generated", zap.Int("bytes", len(data)))
	return &Image{Data: data, ContentType: "image/png"}, nil
}
