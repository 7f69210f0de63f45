package connector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occamlabs/docgateway/internal/result"
	"github.com/occamlabs/docgateway/internal/stage"
)

func translationInput(data string) *stage.Input {
	return &stage.Input{
		JobID: "job-1",
		Ref:   "artifact:job-1:ocr",
		Artifact: &result.Artifact{
			Data:        []byte(data),
			ContentType: "text/plain",
			Meta: map[string]string{
				MetaConfidence: "0.9312",
			},
		},
	}
}

func TestTranslationConnectorProcess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/translate/document/blocking", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "de", r.FormValue("source"))
		assert.Equal(t, "en", r.FormValue("target"))

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		original, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "Guten Tag", string(original))

		w.Write([]byte("Good day"))
	}))
	defer srv.Close()

	c := NewTranslationConnector(&TranslationConfig{
		BaseURL:    srv.URL,
		SourceLang: "de",
		TargetLang: "en",
		Timeout:    5 * time.Second,
	})

	out, err := c.Process(context.Background(), translationInput("Guten Tag"))
	require.NoError(t, err)
	assert.Equal(t, "Good day", string(out.Artifact.Data))
	assert.Equal(t, "text/plain", out.Artifact.ContentType)

	// The OCR side-channel metadata survives the stage.
	assert.Equal(t, "0.9312", out.Artifact.Meta[MetaConfidence])
}

func TestTranslationConnectorLanguageOverrides(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "cs", r.FormValue("source"))
		assert.Equal(t, "fr", r.FormValue("target"))
		w.Write([]byte("Bonjour"))
	}))
	defer srv.Close()

	c := NewTranslationConnector(&TranslationConfig{
		BaseURL:    srv.URL,
		SourceLang: "de",
		TargetLang: "en",
	})

	in := translationInput("Dobrý den")
	in.Artifact.Meta[MetaSourceLang] = "cs"
	in.Artifact.Meta[MetaTargetLang] = "fr"

	out, err := c.Process(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", string(out.Artifact.Data))
}

func TestTranslationConnectorEmptyInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("empty input must not hit the translation service")
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewTranslationConnector(&TranslationConfig{
		BaseURL:    srv.URL,
		SourceLang: "de",
		TargetLang: "en",
	})

	out, err := c.Process(context.Background(), translationInput("  \n\t "))
	require.NoError(t, err)
	assert.Equal(t, "  \n\t ", string(out.Artifact.Data))
}

func TestTranslationConnectorUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unsupported language pair", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewTranslationConnector(&TranslationConfig{
		BaseURL:    srv.URL,
		SourceLang: "de",
		TargetLang: "xx",
	})

	_, err := c.Process(context.Background(), translationInput("Guten Tag"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "translation service returned status 422")
}

func TestTranslationConnectorUnreachable(t *testing.T) {
	c := NewTranslationConnector(&TranslationConfig{
		BaseURL: "http://127.0.0.1:1",
		Timeout: 200 * time.Millisecond,
	})

	_, err := c.Process(context.Background(), translationInput("Guten Tag"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "translation service not available")
}
