//go:build localocr

package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/occamlabs/docgateway/internal/result"
	"github.com/occamlabs/docgateway/internal/stage"
)

// LocalOCR runs tesseract in-process instead of calling the OCR
// service. Built only with the localocr tag because gosseract needs
// cgo and the tesseract libraries.
type LocalOCR struct {
	languages []string
}

// NewLocalOCR creates the tesseract-backed OCR processor.
func NewLocalOCR(languages []string) (stage.Processor, error) {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &LocalOCR{languages: languages}, nil
}

// Process implements stage.Processor. Each call uses its own client;
// gosseract clients are not safe for concurrent use.
func (l *LocalOCR) Process(ctx context.Context, in *stage.Input) (*stage.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	languages := l.languages
	if v := in.Artifact.Meta[MetaLanguages]; v != "" {
		languages = strings.Split(v, ",")
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(languages...); err != nil {
		return nil, fmt.Errorf("failed to set tesseract languages: %w", err)
	}
	if err := client.SetImageFromBytes(in.Artifact.Data); err != nil {
		return nil, fmt.Errorf("failed to load image into tesseract: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract recognition failed: %w", err)
	}

	meta := map[string]string{MetaEngine: "tesseract"}
	forwardOptions(in.Artifact.Meta, meta)

	return &stage.Output{
		Artifact: &result.Artifact{
			Data:        []byte(text),
			ContentType: "text/plain",
			Meta:        meta,
		},
	}, nil
}
