// Package attachments runs the media pipeline: download message
// attachments through a client session, upload them to the object store,
// run recognition, persist the results, and purge expired files.
package attachments

// Action identifies the recognition step a downloaded file needs.
type Action string

const (
	ActionNone Action = ""
	ActionOCR  Action = "ocr"
	ActionASR  Action = "asr"
)

// DownloadArgs is the payload of a files.download_message_attachments
// unit of work.
type DownloadArgs struct {
	SessionID   string   `json:"session_id"`
	MessageKeys []string `json:"message_keys"`
}

// Valid reports whether the payload identifies work to do.
func (a DownloadArgs) Valid() bool {
	return a.SessionID != "" && len(a.MessageKeys) > 0
}

// Job carries one downloaded file from the download stage to the process
// stage.
type Job struct {
	MessageKey string `json:"message_key"`
	Type       string `json:"type"`
	Bucket     string `json:"bucket"`
	FileName   string `json:"file_name"`
	ThumbName  string `json:"thumb_name,omitempty"`
	Language   string `json:"language"`
	Action     Action `json:"action,omitempty"`
}

// ProcessArgs is the payload of a process.process_attachments unit of
// work.
type ProcessArgs struct {
	Jobs []Job `json:"jobs"`
}
