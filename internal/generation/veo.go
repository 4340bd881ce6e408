package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultVeoModel    = "veo-3.1-generate-001"
	defaultVeoLocation = "us-central1"
	defaultAspectRatio = "16:9"
	maxImageBytes      = 20 << 20
	maxErrorBodyBytes  = 4 << 10
)

// TokenSource supplies bearer tokens for the generation API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// VeoConfig holds the Vertex AI Veo client configuration
type VeoConfig struct {
	Project    string
	Location   string
	Model      string
	BaseURL    string // defaults to https://{location}-aiplatform.googleapis.com
	OutputURI  string // gs:// prefix where the service writes videos
	Tokens     TokenSource
	HTTPClient *http.Client
	Logger     *slog.Logger
	Now        func() time.Time
}

// VeoClient talks to Vertex AI long-running video prediction.
type VeoClient struct {
	project    string
	location   string
	model      string
	baseURL    string
	outputURI  string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewVeoClient creates a new Veo client
func NewVeoClient(cfg VeoConfig) (*VeoClient, error) {
	if strings.TrimSpace(cfg.Project) == "" {
		return nil, fmt.Errorf("generation project is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("generation token source is required")
	}

	location := cfg.Location
	if location == "" {
		location = defaultVeoLocation
	}
	model := cfg.Model
	if model == "" {
		model = defaultVeoModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &VeoClient{
		project:    cfg.Project,
		location:   location,
		model:      model,
		baseURL:    baseURL,
		outputURI:  strings.TrimRight(cfg.OutputURI, "/"),
		tokens:     cfg.Tokens,
		httpClient: httpClient,
		logger:     logger,
		now:        now,
	}, nil
}

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type veoInstance struct {
	Prompt string    `json:"prompt"`
	Image  *veoImage `json:"image,omitempty"`
}

type veoParameters struct {
	AspectRatio      string `json:"aspectRatio"`
	DurationSeconds  int    `json:"durationSeconds"`
	SampleCount      int    `json:"sampleCount"`
	PersonGeneration string `json:"personGeneration"`
	StorageURI       string `json:"storageUri,omitempty"`
}

type veoPredictRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParameters `json:"parameters"`
}

type veoOperation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Response *struct {
		Videos []struct {
			GCSURI   string `json:"gcsUri"`
			MimeType string `json:"mimeType"`
		} `json:"videos"`
		GeneratedVideos []struct {
			Video struct {
				URI string `json:"uri"`
			} `json:"video"`
		} `json:"generatedVideos"`
	} `json:"response,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Start submits a generation and returns its operation handle.
// Only the first reference image is sent; the service accepts one.
func (c *VeoClient) Start(ctx context.Context, req StartRequest) (Operation, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Operation{}, fmt.Errorf("%w: prompt is required", ErrGenerationStart)
	}
	if len(req.ReferenceImageURLs) == 0 {
		return Operation{}, fmt.Errorf("%w: at least one reference image is required", ErrGenerationStart)
	}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = defaultAspectRatio
	}

	c.logger.Info("Starting video generation",
		slog.Int("image_count", len(req.ReferenceImageURLs)),
		slog.Int("duration_seconds", req.DurationSeconds),
		slog.String("aspect_ratio", aspect),
		slog.Int("prompt_length", len(req.Prompt)),
	)

	image, err := c.fetchImage(ctx, req.ReferenceImageURLs[0])
	if err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrGenerationStart, err)
	}

	body := veoPredictRequest{
		Instances: []veoInstance{{Prompt: req.Prompt, Image: image}},
		Parameters: veoParameters{
			AspectRatio:      aspect,
			DurationSeconds:  req.DurationSeconds,
			SampleCount:      1,
			PersonGeneration: "allow_all",
			StorageURI:       c.storageURI(),
		},
	}

	var op veoOperation
	if err := c.post(ctx, c.modelURL("predictLongRunning"), body, &op); err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrGenerationStart, err)
	}
	if op.Name == "" {
		return Operation{}, fmt.Errorf("%w: response carried no operation name", ErrGenerationStart)
	}

	c.logger.Info("Video generation operation started",
		slog.String("operation", op.Name),
	)

	return Operation{Name: op.Name, Metadata: op.Metadata}, nil
}

// Poll fetches the current status of op.
func (c *VeoClient) Poll(ctx context.Context, op Operation) (PollResult, error) {
	if op.Name == "" {
		return PollResult{}, fmt.Errorf("%w: operation has no name", ErrPoll)
	}

	var current veoOperation
	body := map[string]string{"operationName": op.Name}
	if err := c.post(ctx, c.modelURL("fetchPredictOperation"), body, &current); err != nil {
		return PollResult{}, fmt.Errorf("%w: %v", ErrPoll, err)
	}

	next := Operation{Name: current.Name, Done: current.Done, Metadata: current.Metadata}
	if next.Name == "" {
		next.Name = op.Name
	}
	if next.Metadata == nil {
		next.Metadata = op.Metadata
	}

	c.logger.Debug("Polled video generation",
		slog.String("operation", next.Name),
		slog.Bool("done", current.Done),
		slog.Bool("has_error", current.Error != nil),
		slog.Bool("has_response", current.Response != nil),
	)

	result := PollResult{Done: current.Done, Operation: next}
	if !current.Done {
		return result, nil
	}

	if ref := videoRef(current); ref != "" {
		result.VideoRef = ref
		return result, nil
	}
	if current.Error != nil {
		msg := current.Error.Message
		if msg == "" {
			msg = fmt.Sprintf("operation failed with code %d", current.Error.Code)
		}
		result.ErrorMessage = msg
		return result, nil
	}

	result.ErrorMessage = "no video reference in response"
	return result, nil
}

func videoRef(op veoOperation) string {
	if op.Response == nil {
		return ""
	}
	for _, v := range op.Response.Videos {
		if v.GCSURI != "" {
			return v.GCSURI
		}
	}
	for _, v := range op.Response.GeneratedVideos {
		if v.Video.URI != "" {
			return v.Video.URI
		}
	}
	return ""
}

func (c *VeoClient) modelURL(method string) string {
	return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		c.baseURL, c.project, c.location, c.model, method)
}

func (c *VeoClient) storageURI() string {
	if c.outputURI == "" {
		return ""
	}
	return fmt.Sprintf("%s/videos/%d/", c.outputURI, c.now().UnixMilli())
}

func (c *VeoClient) fetchImage(ctx context.Context, imageURL string) (*veoImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	c.logger.Debug("Reference image fetched",
		slog.Int("size_bytes", len(data)),
		slog.String("mime_type", mimeType),
	)

	return &veoImage{
		BytesBase64Encoded: base64.StdEncoding.EncodeToString(data),
		MimeType:           mimeType,
	}, nil
}

func (c *VeoClient) post(ctx context.Context, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.Error("Generation API error",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(snippet)),
		)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}

var _ Client = (*VeoClient)(nil)
