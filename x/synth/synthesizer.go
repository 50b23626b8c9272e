package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/rs/zerolog"
)

// ErrNoImage indicates the API answered successfully but returned no
// artifact data.
var ErrNoImage = errors.New("synth: no image data in response")

// Image is one synthesized result.
type Image struct {
	PNG       []byte
	Prompt    string
	Legendary bool
}

// Synthesizer produces an image for a completed generation. A failure here
// must never roll back or retry the on-chain side; callers report it and
// offer a manual retry.
type Synthesizer interface {
	Generate(ctx context.Context, legendary bool, reference []byte) (Image, error)
}

// Client calls a Stability-style generation API. Calls are not retried:
// each attempt costs money, and the orchestrator surfaces failures with a
// manual-retry affordance instead.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	prompts    *PromptBuilder
	log        zerolog.Logger
}

var _ Synthesizer = (*Client)(nil)

// New constructs a synthesis client.
func New(cfg Config, prompts *PromptBuilder, log zerolog.Logger) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Engine == "" {
		cfg.Engine = def.Engine
	}
	if cfg.StylePreset == "" {
		cfg.StylePreset = def.StylePreset
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.APIKey == "" {
		return nil, errors.New("synth: api key is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("synth: invalid base URL: %w", err)
	}
	if prompts == nil {
		prompts = NewPromptBuilder(nil)
	}

	return &Client{
		cfg:        cfg,
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		prompts:    prompts,
		log:        log.With().Str("component", "image-synth").Logger(),
	}, nil
}

type textPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type generationRequest struct {
	TextPrompts        []textPrompt `json:"text_prompts"`
	CfgScale           float64      `json:"cfg_scale"`
	ClipGuidancePreset string       `json:"clip_guidance_preset"`
	Height             int          `json:"height"`
	Width              int          `json:"width"`
	Samples            int          `json:"samples"`
	Steps              int          `json:"steps"`
	StylePreset        string       `json:"style_preset"`
	InitImage          string       `json:"init_image,omitempty"`
	ImageStrength      float64      `json:"image_strength,omitempty"`
}

type generationResponse struct {
	Artifacts []struct {
		Base64       string `json:"base64"`
		FinishReason string `json:"finishReason"`
	} `json:"artifacts"`
	Message string `json:"message"`
}

// Generate synthesizes one image. A non-nil reference switches to the
// image-to-image remix variant, seeding the result with the user's upload.
func (c *Client) Generate(ctx context.Context, legendary bool, reference []byte) (Image, error) {
	prompt := c.prompts.Build(legendary)

	endpoint := "text-to-image"
	body := generationRequest{
		TextPrompts: []textPrompt{
			{Text: prompt, Weight: 1},
			{Text: "blurry, distorted, low quality", Weight: -1},
		},
		CfgScale:           8.5,
		ClipGuidancePreset: "FAST_BLUE",
		Height:             1024,
		Width:              1024,
		Samples:            1,
		Steps:              30,
		StylePreset:        c.cfg.StylePreset,
	}
	if len(reference) > 0 {
		endpoint = "image-to-image"
		body.InitImage = base64.StdEncoding.EncodeToString(reference)
		body.ImageStrength = 0.35
		// image-to-image derives dimensions from the init image
		body.Height = 0
		body.Width = 0
	}

	c.log.Info().
		Bool("legendary", legendary).
		Bool("remix", len(reference) > 0).
		Str("endpoint", endpoint).
		Msg("requesting image synthesis")

	png, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error().Err(err).Msg("image synthesis failed")
		return Image{}, err
	}

	return Image{PNG: png, Prompt: prompt, Legendary: legendary}, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body generationRequest) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("synth: marshal request: %w", err)
	}

	clone := *c.baseURL
	clone.Path = path.Join(clone.Path, "generation", c.cfg.Engine, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, clone.String(), bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("synth: prepare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synth: post %s: %w", endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		var apiErr generationResponse
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		if json.Unmarshal(msg, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("synth: api returned %s: %s", res.Status, apiErr.Message)
		}
		return nil, fmt.Errorf("synth: api returned %s: %s", res.Status, string(msg))
	}

	var parsed generationResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("synth: decode response: %w", err)
	}
	if len(parsed.Artifacts) == 0 || parsed.Artifacts[0].Base64 == "" {
		return nil, ErrNoImage
	}

	png, err := base64.StdEncoding.DecodeString(parsed.Artifacts[0].Base64)
	if err != nil {
		return nil, fmt.Errorf("synth: decode image data: %w", err)
	}
	return png, nil
}

// WithTimeout clamps a context to the configured synthesis timeout.
func (c *Client) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.Timeout)
}
