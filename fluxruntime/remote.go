package fluxruntime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Status codes returned by the remote handle.
const (
	remoteRCBadArgs   = 2
	remoteRCRequest   = 3
	remoteRCDecode    = 4
	remoteRCSave      = 5
	remoteRCLoadInput = 6
)

// RemoteConfig configures RemoteBackend.
type RemoteConfig struct {
	// BaseURL is an OpenAI-compatible API root, e.g. http://gpu-box:8080/v1.
	BaseURL string
	// APIKey is sent as a bearer token. Local servers usually accept any value.
	APIKey string
	// Model overrides the model name; empty uses the base name of modelDir.
	Model string
	// Timeout bounds a single remote call. Zero means 5 minutes.
	Timeout time.Duration
	// HTTPClient is optional.
	HTTPClient *http.Client
}

// RemoteBackend forwards generations to an OpenAI-compatible images
// endpoint. The "engine" it creates is a configured API client; the resident
// model lives on the remote server.
type RemoteBackend struct {
	cfg RemoteConfig
}

// NewRemoteBackend returns a RemoteBackend for cfg.
func NewRemoteBackend(cfg RemoteConfig) *RemoteBackend {
	return &RemoteBackend{cfg: cfg}
}

// Create builds the API client. useMmap has no meaning remotely and is ignored.
func (b *RemoteBackend) Create(modelDir string, useMmap bool) (Handle, error) {
	if b.cfg.BaseURL == "" {
		return nil, errors.New("remote backend requires a base URL")
	}

	clientCfg := openai.DefaultConfig(b.cfg.APIKey)
	clientCfg.BaseURL = b.cfg.BaseURL
	if b.cfg.HTTPClient != nil {
		clientCfg.HTTPClient = b.cfg.HTTPClient
	}

	model := b.cfg.Model
	if model == "" {
		model = filepath.Base(modelDir)
	}
	timeout := b.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &remoteHandle{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
	}, nil
}

type remoteHandle struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	lastErr string
}

func (h *remoteHandle) TextToImage(prompt string, p Params, outPath string) int {
	if h.client == nil {
		return 1
	}
	if prompt == "" || outPath == "" {
		h.lastErr = "bad args"
		return remoteRCBadArgs
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	resp, err := h.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          h.model,
		N:              1,
		Size:           fmt.Sprintf("%dx%d", p.Width, p.Height),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		h.lastErr = err.Error()
		return remoteRCRequest
	}
	return h.save(resp, outPath)
}

func (h *remoteHandle) ImageToImage(prompt, inPath string, p Params, outPath string) int {
	if h.client == nil {
		return 1
	}
	if inPath == "" || outPath == "" {
		h.lastErr = "bad args"
		return remoteRCBadArgs
	}

	in, err := os.Open(inPath)
	if err != nil {
		h.lastErr = "failed to load input image"
		return remoteRCLoadInput
	}
	defer in.Close()

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	req := openai.ImageEditRequest{
		Image:          in,
		Prompt:         prompt,
		Model:          h.model,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	}
	if p.Width > 0 && p.Height > 0 {
		req.Size = fmt.Sprintf("%dx%d", p.Width, p.Height)
	}

	resp, err := h.client.CreateEditImage(ctx, req)
	if err != nil {
		h.lastErr = err.Error()
		return remoteRCRequest
	}
	return h.save(resp, outPath)
}

func (h *remoteHandle) save(resp openai.ImageResponse, outPath string) int {
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		h.lastErr = "remote returned no image data"
		return remoteRCDecode
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		h.lastErr = "failed to decode image: " + err.Error()
		return remoteRCDecode
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		h.lastErr = "failed to save output: " + err.Error()
		return remoteRCSave
	}
	return 0
}

func (h *remoteHandle) LastError() string {
	if h.client == nil {
		return "engine is destroyed"
	}
	return h.lastErr
}

func (h *remoteHandle) Destroy() {
	h.client = nil
}
