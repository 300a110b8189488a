// Package tesseract runs text recognition through the tesseract CLI.
package tesseract

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// iso3 maps the two-letter codes used across the worker onto tesseract's
// three-letter trained-data names.
var iso3 = map[string]string{
	"da": "dan", "nl": "nld", "en": "eng", "fi": "fin", "fr": "fra",
	"de": "deu", "hu": "hun", "it": "ita", "nb": "nor", "pt": "por",
	"ro": "ron", "ru": "rus", "es": "spa", "sv": "swe", "tr": "tur",
}

// Engine invokes the tesseract binary for each recognition request.
type Engine struct {
	binary string
}

// New creates an Engine. An empty binary selects "tesseract" from PATH.
func New(binary string) *Engine {
	if binary == "" {
		binary = "tesseract"
	}
	return &Engine{binary: binary}
}

// RecognizeText extracts text from the image at imagePath. An unknown or
// empty language falls back to English trained data.
func (e *Engine) RecognizeText(ctx context.Context, imagePath string, language string) (string, error) {
	lang, ok := iso3[language]
	if !ok {
		lang = "eng"
	}

	cmd := exec.CommandContext(ctx, e.binary, imagePath, "stdout", "-l", lang)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("running tesseract on %s: %w", imagePath, err)
	}
	return strings.TrimSpace(string(out)), nil
}
