// Package lingua detects chat languages with the lingua-go model.
package lingua

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// minConfidence drops unreliable guesses from the detector output.
const minConfidence = 0.15

// Detector wraps a lingua language detector built over all supported
// languages. Building the model is expensive; construct once and share.
type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a Detector.
func New() *Detector {
	return &Detector{
		detector: lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build(),
	}
}

// Detect returns the detected language codes most likely first, omitting
// guesses below the confidence floor.
func (d *Detector) Detect(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var codes []string
	for _, cv := range d.detector.ComputeLanguageConfidenceValues(text) {
		if cv.Value() < minConfidence {
			break
		}
		codes = append(codes, strings.ToLower(cv.Language().IsoCode639_1().String()))
	}
	return codes
}
