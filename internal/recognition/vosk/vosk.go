// Package vosk runs speech recognition through the vosk-transcriber CLI.
package vosk

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Engine invokes the vosk-transcriber binary for each transcription request.
type Engine struct {
	binary   string
	language string
}

// New creates an Engine transcribing in the given language. An empty binary
// selects "vosk-transcriber" from PATH.
func New(binary, language string) *Engine {
	if binary == "" {
		binary = "vosk-transcriber"
	}
	return &Engine{binary: binary, language: language}
}

// Transcribe converts the audio file at audioPath to text.
func (e *Engine) Transcribe(ctx context.Context, audioPath string) (string, error) {
	args := []string{"--input", audioPath}
	if e.language != "" {
		args = append(args, "--lang", e.language)
	}

	cmd := exec.CommandContext(ctx, e.binary, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("running vosk on %s: %w", audioPath, err)
	}
	return strings.TrimSpace(string(out)), nil
}
