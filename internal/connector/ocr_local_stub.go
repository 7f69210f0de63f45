//go:build !localocr

package connector

import (
	"errors"

	"github.com/occamlabs/docgateway/internal/stage"
)

// NewLocalOCR is unavailable without the localocr build tag.
func NewLocalOCR(_ []string) (stage.Processor, error) {
	return nil, errors.New("local OCR engine requires a binary built with the localocr tag")
}
