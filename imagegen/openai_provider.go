// openai_provider.go implements a Loader whose pipelines call the OpenAI
// (or Azure OpenAI) images API.
//
// The remote service owns its model, so adapter and single-file loads are
// rejected with sdruntime.ErrAdapterUnsupported. Steps, guidance scale and
// seed are not part of the images API and are ignored.

package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	"diffusion_backend/sdruntime"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/image/draw"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "dall-e-2"
)

// OpenAIConfig holds configuration for the remote backend.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (required)
	APIKey string

	// BaseURL is the API endpoint (default: https://api.openai.com/v1).
	// Azure endpoints are detected and configured automatically.
	BaseURL string

	// Model is the image model, or the deployment name on Azure (default: dall-e-2)
	Model string

	// HTTPClient is the HTTP client for API calls (optional)
	HTTPClient *http.Client
}

// OpenAILoader implements sdruntime.Loader against the images API.
//
// Thread Safety: OpenAILoader and its pipelines are safe for concurrent use.
// The underlying OpenAI client handles connection pooling.
type OpenAILoader struct {
	client *openai.Client
	model  string
}

// NewOpenAILoader creates a remote loader.
func NewOpenAILoader(cfg OpenAIConfig) (*OpenAILoader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("imagegen: OpenAI API key is required for image generation")
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultBaseURL
	}

	var clientConfig openai.ClientConfig
	if IsAzureEndpoint(endpoint) {
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, endpoint)
	} else {
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = endpoint
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &OpenAILoader{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Model returns the configured image model name.
func (l *OpenAILoader) Model() string {
	return l.model
}

// LoadBase returns a pipeline bound to the configured model. No network
// traffic happens until the first Generate.
func (l *OpenAILoader) LoadBase(ctx context.Context, opts sdruntime.LoadOptions) (sdruntime.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &remotePipeline{client: l.client, model: l.model}, nil
}

func (l *OpenAILoader) ApplyAdapter(ctx context.Context, p sdruntime.Pipeline, dir, weightName string) error {
	return fmt.Errorf("%w: remote model %s", sdruntime.ErrAdapterUnsupported, l.model)
}

func (l *OpenAILoader) LoadSingleFile(ctx context.Context, path string, comps sdruntime.Components, opts sdruntime.LoadOptions) (sdruntime.Pipeline, error) {
	return nil, fmt.Errorf("%w: remote model %s", sdruntime.ErrAdapterUnsupported, l.model)
}

func (l *OpenAILoader) LoadTextEncoder(ctx context.Context) (*sdruntime.Component, error) {
	return nil, fmt.Errorf("%w: remote model %s", sdruntime.ErrAdapterUnsupported, l.model)
}

func (l *OpenAILoader) LoadTokenizer(ctx context.Context) (*sdruntime.Component, error) {
	return nil, fmt.Errorf("%w: remote model %s", sdruntime.ErrAdapterUnsupported, l.model)
}

type remotePipeline struct {
	client *openai.Client
	model  string
}

func (p *remotePipeline) Device() sdruntime.Device { return sdruntime.DeviceRemote }

func (p *remotePipeline) Close() error { return nil }

// Generate requests one base64 image and scales it to the requested size.
func (p *remotePipeline) Generate(ctx context.Context, call sdruntime.Call) (image.Image, error) {
	if err := sdruntime.ValidateCall(call); err != nil {
		return nil, err
	}
	width, height := call.ResolvedSize()

	req := openai.ImageRequest{
		Prompt:         composePrompt(call.Prompt, call.NegativePrompt),
		Model:          p.model,
		Size:           NearestImageSize(width, height),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		N:              1,
	}

	response, err := p.client.CreateImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: images API: %v", sdruntime.ErrGenerationFailed, err)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("%w: images API returned empty Data array", sdruntime.ErrGenerationFailed)
	}
	if response.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("%w: images API returned no image data", sdruntime.ErrGenerationFailed)
	}

	raw, err := base64.StdEncoding.DecodeString(response.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 image: %v", sdruntime.ErrGenerationFailed, err)
	}
	img, err := sdruntime.DecodeImage(raw)
	if err != nil {
		return nil, err
	}

	return resizeTo(img, width, height), nil
}

// resizeTo scales img to width x height. Images already at that size are
// returned unchanged.
func resizeTo(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

var (
	_ sdruntime.Loader   = (*OpenAILoader)(nil)
	_ sdruntime.Pipeline = (*remotePipeline)(nil)
)
