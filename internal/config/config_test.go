package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teledash/teledash/internal/domain/chat"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrape.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScrape(t *testing.T) {
	path := writePolicy(t, `
max_days: 30
interval_minutes: 60
attachment_types: [photo, voice]
retention_days: 14
fallback_language: en
ocr:
  enabled: true
asr:
  enabled: true
  language: de
`)

	scrape, err := LoadScrape(path)
	require.NoError(t, err)

	assert.Equal(t, 30, scrape.MaxDays)
	assert.Equal(t, 60, scrape.IntervalMinutes)
	assert.Equal(t, []string{"photo", "voice"}, scrape.AttachmentTypes)
	assert.Equal(t, 14, scrape.RetentionDays)
	assert.True(t, scrape.OCR.Enabled)
	assert.Equal(t, "de", scrape.ASR.Language)

	assert.True(t, scrape.WantsAttachment(chat.AttachmentPhoto))
	assert.False(t, scrape.WantsAttachment(chat.AttachmentVideo))
}

func TestLoadScrapeRejectsUnknownAttachmentType(t *testing.T) {
	path := writePolicy(t, `
interval_minutes: 60
attachment_types: [photo, hologram]
`)

	_, err := LoadScrape(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hologram")
}

func TestLoadScrapeRejectsMissingInterval(t *testing.T) {
	path := writePolicy(t, `
attachment_types: [photo]
`)

	_, err := LoadScrape(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval_minutes")
}

func TestLoadScrapeRequiresASRLanguage(t *testing.T) {
	path := writePolicy(t, `
interval_minutes: 60
asr:
  enabled: true
`)

	_, err := LoadScrape(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asr.language")
}
