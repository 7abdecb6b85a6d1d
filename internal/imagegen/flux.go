package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nidhogg/agent-interview/internal/provider"
	"go.uber.org/zap"
)

// Flux generates images with FLUX.1 [dev] on fal.
type Flux struct {
	key      string
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewFlux creates a fal Flux generator.
func NewFlux(key, endpoint string, client *http.Client, logger *zap.Logger) *Flux {
	if endpoint == "" {
		endpoint = "https://fal.run/fal-ai/flux/dev"
	}
	return &Flux{key: key, endpoint: endpoint, client: client, logger: logger}
}

type fluxRequest struct {
	Prompt              string   `json:"prompt"`
	ImageSize           Size     `json:"image_size"`
	Seed                *int     `json:"seed,omitempty"`
	GuidanceScale       *float64 `json:"guidance_scale,omitempty"`
	NumImages           int      `json:"num_images"`
	SyncMode            bool     `json:"sync_mode"`
	EnableSafetyChecker bool     `json:"enable_safety_checker"`
}

type fluxResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
	Seed int `json:"seed"`
}

// Generate renders one image.
func (f *Flux) Generate(ctx context.Context, req Request) (*Image, error) {
	size := req.Size
	if size == "" {
		size = SizeLandscape4x3
	}
	body, err := json.Marshal(fluxRequest{
		Prompt:        req.Prompt,
		ImageSize:     size,
		Seed:          req.Seed,
		GuidanceScale: req.Guidance,
		NumImages:     1,
		SyncMode:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+f.key)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &provider.APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var out fluxResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Images) == 0 {
		return nil, fmt.Errorf("fal returned no images")
	}

	img := out.Images[0]
	var data []byte
	ct := img.ContentType
	if strings.HasPrefix(img.URL, "data:") {
		var dataCT string
		dataCT, data, err = DecodeDataURL(img.URL)
		if err != nil {
			return nil, err
		}
		if ct == "" {
			ct = dataCT
		}
	} else {
		data, err = f.download(ctx, img.URL)
		if err != nil {
			return nil, err
		}
	}
	f.logger.Debug("flux image generated", zap.Int("bytes", len(data)), zap.Int("seed", out.Seed))
	return &Image{Data: data, ContentType: ct, Seed: out.Seed}, nil
}

func (f *Flux) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &provider.APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}
