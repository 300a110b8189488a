// Package recognition defines the OCR, speech-recognition and
// language-detection capabilities the worker invokes on downloaded media.
// Engines are external collaborators; the worker only sees these interfaces.
package recognition

import "context"

// OCR extracts text from an image file.
type OCR interface {
	RecognizeText(ctx context.Context, imagePath string, language string) (string, error)
}

// ASR transcribes speech from an audio file.
type ASR interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// LanguageDetector identifies the languages of a text sample, most likely
// first. Unreliable guesses are omitted.
type LanguageDetector interface {
	Detect(text string) []string
}

// SearchableLanguages is the set of language codes the document store can
// build text indexes for. Detected languages outside the set are kept as
// secondary languages only.
var SearchableLanguages = map[string]struct{}{
	"da": {}, "nl": {}, "en": {}, "fi": {}, "fr": {}, "de": {}, "hu": {},
	"it": {}, "nb": {}, "pt": {}, "ro": {}, "ru": {}, "es": {}, "sv": {},
	"tr": {},
}

// SplitDetected partitions detected languages into the primary searchable
// language and the remainder. When the top guess is not searchable there is
// no primary and every guess is secondary.
func SplitDetected(detected []string) (primary string, other []string) {
	if len(detected) == 0 {
		return "", nil
	}
	if _, ok := SearchableLanguages[detected[0]]; ok {
		if len(detected) > 1 {
			other = detected[1:]
		}
		return detected[0], other
	}
	return "", detected
}
