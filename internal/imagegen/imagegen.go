// Package imagegen renders avatar and homespace images from text prompts.
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoImageProvider is returned when no image backend is configured.
var ErrNoImageProvider = errors.New("no image generation key configured")

// Size is an image size class.
type Size string

const (
	SizeSquareHD      Size = "square_hd"
	SizeSquare        Size = "square"
	SizePortrait4x3   Size = "portrait_4_3"
	SizePortrait16x9  Size = "portrait_16_9"
	SizeLandscape4x3  Size = "landscape_4_3"
	SizeLandscape16x9 Size = "landscape_16_9"
)

// Sizes lists every supported size class.
var Sizes = []Size{SizeSquareHD, SizeSquare, SizePortrait4x3, SizePortrait16x9, SizeLandscape4x3, SizeLandscape16x9}

// Request describes one image to generate.
type Request struct {
	Prompt   string
	Size     Size
	Seed     *int
	Guidance *float64
}

// Image is a generated image.
type Image struct {
	Data        []byte
	ContentType string
	Seed        int
}

// DataURL encodes the image as a data URL.
func (img *Image) DataURL() string {
	ct := img.ContentType
	if ct == "" {
		ct = http.DetectContentType(img.Data)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Generator produces images.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Image, error)
}

const (
	characterStyle  = "full body shot, front view, facing viewer, standing straight, arms at side, neutral expression, high resolution, flcl anime style"
	backgroundStyle = "flcl anime style background art"
)

// CharacterRequest builds the request for an avatar preview.
func CharacterRequest(description string) Request {
	return Request{
		Prompt: fmt.Sprintf("%s\n%s", characterStyle, description),
		Size:   SizePortrait4x3,
	}
}

// BackgroundRequest builds the request for a homespace image.
func BackgroundRequest(description string) Request {
	return Request{
		Prompt: fmt.Sprintf("%s\n%s", backgroundStyle, description),
		Size:   SizeSquareHD,
	}
}

// Options selects and configures the image backend.
type Options struct {
	FalKey         string
	FalEndpoint    string
	OpenAIKey      string
	OpenAIEndpoint string
	Timeout        time.Duration
}

// FromOptions picks Flux on fal when a fal key is set, then DALL-E 3 when an
// OpenAI key is set. Without either it returns a generator that always fails
// with ErrNoImageProvider.
func FromOptions(opts Options, logger *zap.Logger) Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{Timeout: opts.Timeout}
	if opts.Timeout == 0 {
		client.Timeout = 180 * time.Second
	}
	switch {
	case opts.FalKey != "":
		return NewFlux(opts.FalKey, opts.FalEndpoint, client, logger)
	case opts.OpenAIKey != "":
		return NewDallE(opts.OpenAIKey, opts.OpenAIEndpoint, client, logger)
	default:
		return unavailable{}
	}
}

type unavailable struct{}

func (unavailable) Generate(context.Context, Request) (*Image, error) {
	return nil, ErrNoImageProvider
}

// DecodeDataURL splits a base64 data URL into content type and bytes.
func DecodeDataURL(u string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(u, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL")
	}
	ct, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("data URL is not base64")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL: %w", err)
	}
	return ct, data, nil
}
