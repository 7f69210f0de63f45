package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/occamlabs/docgateway/internal/result"
	"github.com/occamlabs/docgateway/internal/stage"
)

// Artifact metadata keys set by the OCR stage.
const (
	MetaPageXML    = "page_xml"
	MetaConfidence = "ocr_confidence"
	MetaEngine     = "ocr_engine"
)

// Per-submission option keys. Set on the source artifact at submission
// time; they override the configured defaults for that job and ride
// the artifact chain so the translation stage sees them too.
const (
	MetaLanguages  = "ocr_languages"
	MetaSourceLang = "source_lang"
	MetaTargetLang = "target_lang"
)

// forwardOptions copies submission options from the stage input onto
// the stage output so downstream stages keep seeing them.
func forwardOptions(in, out map[string]string) {
	for _, key := range []string{MetaSourceLang, MetaTargetLang} {
		if v := in[key]; v != "" {
			out[key] = v
		}
	}
}

// OCRConfig configures the OCR service connector.
type OCRConfig struct {
	BaseURL string
	Engine  string
	Timeout time.Duration
}

// OCRConnector sends page images to the OCR service and returns the
// recognized text as a text/plain artifact. The PAGE-XML overlay and
// the engine's mean confidence, when reported, ride along as artifact
// metadata for downstream evaluation.
type OCRConnector struct {
	config *OCRConfig
	client *http.Client
}

// ocrResponse is the OCR service's result document.
type ocrResponse struct {
	Text       string   `json:"text"`
	XML        string   `json:"xml"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// NewOCRConnector creates the HTTP connector to the OCR service.
func NewOCRConnector(cfg *OCRConfig) *OCRConnector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &OCRConnector{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Process implements stage.Processor.
func (c *OCRConnector) Process(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	endpoint, err := joinURL(c.config.BaseURL, "ocr")
	if err != nil {
		return nil, err
	}

	engine := c.config.Engine
	if v := in.Artifact.Meta[MetaEngine]; v != "" {
		engine = v
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", in.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to build OCR request: %w", err)
	}
	if _, err := part.Write(in.Artifact.Data); err != nil {
		return nil, fmt.Errorf("failed to build OCR request: %w", err)
	}
	if engine != "" {
		if err := writer.WriteField("engine", engine); err != nil {
			return nil, fmt.Errorf("failed to build OCR request: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build OCR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build OCR request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OCR service not available: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse("OCR service", resp); err != nil {
		return nil, err
	}

	var parsed ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode OCR response: %w", err)
	}

	meta := map[string]string{}
	forwardOptions(in.Artifact.Meta, meta)
	if engine != "" {
		meta[MetaEngine] = engine
	}
	if parsed.XML != "" {
		meta[MetaPageXML] = parsed.XML
	}
	if parsed.Confidence != nil {
		meta[MetaConfidence] = strconv.FormatFloat(*parsed.Confidence, 'f', 4, 64)
	}

	return &stage.Output{
		Artifact: &result.Artifact{
			Data:        []byte(parsed.Text),
			ContentType: "text/plain",
			Meta:        meta,
		},
	}, nil
}

// HealthCheck verifies the OCR service is reachable.
func (c *OCRConnector) HealthCheck(ctx context.Context) error {
	endpoint, err := joinURL(c.config.BaseURL, "docs")
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("OCR service not available: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse("OCR service", resp)
}
