package connector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/occamlabs/docgateway/internal/result"
	"github.com/occamlabs/docgateway/internal/stage"
)

// TranslationConfig configures the translation service connector.
type TranslationConfig struct {
	BaseURL    string
	SourceLang string
	TargetLang string
	Timeout    time.Duration
}

// TranslationConnector sends the OCR output to the translation
// service and returns the translated document.
type TranslationConnector struct {
	config *TranslationConfig
	client *http.Client
}

// NewTranslationConnector creates the HTTP connector to the
// translation service.
func NewTranslationConnector(cfg *TranslationConfig) *TranslationConnector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &TranslationConnector{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Process implements stage.Processor.
func (c *TranslationConnector) Process(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	// The translation API fails on empty input; an empty document
	// translates to itself.
	if len(bytes.TrimSpace(in.Artifact.Data)) == 0 {
		return &stage.Output{
			Artifact: &result.Artifact{
				Data:        in.Artifact.Data,
				ContentType: in.Artifact.ContentType,
				Meta:        in.Artifact.Meta,
			},
		}, nil
	}

	endpoint, err := joinURL(c.config.BaseURL, "translate/document/blocking")
	if err != nil {
		return nil, err
	}

	source := c.config.SourceLang
	if v := in.Artifact.Meta[MetaSourceLang]; v != "" {
		source = v
	}
	target := c.config.TargetLang
	if v := in.Artifact.Meta[MetaTargetLang]; v != "" {
		target = v
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", in.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to build translation request: %w", err)
	}
	if _, err := part.Write(in.Artifact.Data); err != nil {
		return nil, fmt.Errorf("failed to build translation request: %w", err)
	}
	if err := writer.WriteField("source", source); err != nil {
		return nil, fmt.Errorf("failed to build translation request: %w", err)
	}
	if err := writer.WriteField("target", target); err != nil {
		return nil, fmt.Errorf("failed to build translation request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build translation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build translation request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("translation service not available: %w", err)
	}
	defer resp.Body.Close()

	if err := checkResponse("translation service", resp); err != nil {
		return nil, err
	}

	translated, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation response: %w", err)
	}

	// The OCR side-channel metadata survives the stage.
	return &stage.Output{
		Artifact: &result.Artifact{
			Data:        translated,
			ContentType: in.Artifact.ContentType,
			Meta:        in.Artifact.Meta,
		},
	}, nil
}

// HealthCheck verifies the translation service is reachable.
func (c *TranslationConnector) HealthCheck(ctx context.Context) error {
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
		return fmt.Errorf("translation service not available: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse("translation service", resp)
}
