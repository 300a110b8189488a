package chat

import (
	"fmt"
	"strings"
	"time"
)

// AttachmentType identifies the media kind carried by a message.
type AttachmentType string

const (
	AttachmentPhoto     AttachmentType = "photo"
	AttachmentVideo     AttachmentType = "video"
	AttachmentVideoNote AttachmentType = "video_note"
	AttachmentAudio     AttachmentType = "audio"
	AttachmentVoice     AttachmentType = "voice"
	AttachmentDocument  AttachmentType = "document"
	AttachmentSticker   AttachmentType = "sticker"
	AttachmentAnimation AttachmentType = "animation"
)

// KnownAttachmentTypes enumerates every attachment type the worker can
// persist. Configuration allow-lists are validated against this set.
var KnownAttachmentTypes = map[AttachmentType]struct{}{
	AttachmentPhoto:     {},
	AttachmentVideo:     {},
	AttachmentVideoNote: {},
	AttachmentAudio:     {},
	AttachmentVoice:     {},
	AttachmentDocument:  {},
	AttachmentSticker:   {},
	AttachmentAnimation: {},
}

// ThumbnailBucket is the object-store bucket holding downloaded thumbnails.
const ThumbnailBucket = "thumbnails"

// BucketForAttachment derives the object-store bucket from the attachment
// type, e.g. photo -> photos, video_note -> video-notes.
func BucketForAttachment(t AttachmentType) string {
	return strings.ReplaceAll(string(t), "_", "-") + "s"
}

// StorageBuckets returns every bucket the worker writes attachments into.
func StorageBuckets() []string {
	buckets := make([]string, 0, len(KnownAttachmentTypes)+1)
	for t := range KnownAttachmentTypes {
		buckets = append(buckets, BucketForAttachment(t))
	}
	return append(buckets, ThumbnailBucket)
}

// StorageRef points at an uploaded attachment object.
type StorageRef struct {
	Bucket string `bson:"bucket"`
	Object string `bson:"object"`
}

// Thumb describes the smallest thumbnail offered for an attachment.
type Thumb struct {
	FileID       string `bson:"file_id"`
	FileUniqueID string `bson:"file_unique_id"`
}

// Attachment describes the media carried by a message. StorageRefs, OCR and
// Transcription are filled in by the attachment pipeline after the message
// itself has been persisted.
type Attachment struct {
	Type          AttachmentType `bson:"type"`
	FileID        string         `bson:"file_id,omitempty"`
	FileUniqueID  string         `bson:"file_unique_id,omitempty"`
	MimeType      string         `bson:"mime_type,omitempty"`
	Thumb         *Thumb         `bson:"thumb,omitempty"`
	StorageRefs   []StorageRef   `bson:"storage_refs,omitempty"`
	OCR           string         `bson:"ocr,omitempty"`
	Transcription string         `bson:"transcription,omitempty"`
}

// IsImage reports whether the attachment should be treated as an image for
// text recognition purposes.
func (a Attachment) IsImage() bool {
	return a.Type == AttachmentPhoto ||
		(a.Type == AttachmentDocument && strings.HasPrefix(a.MimeType, "image"))
}

// IsAudio reports whether the attachment should be treated as audio for
// speech recognition purposes.
func (a Attachment) IsAudio() bool {
	return a.Type == AttachmentAudio || a.Type == AttachmentVoice ||
		(a.Type == AttachmentDocument && strings.HasPrefix(a.MimeType, "audio"))
}

// MessageKey builds the natural key for a message. Message ordinals are only
// unique within a chat, so the key combines both.
func MessageKey(chatID int64, ordinal int64) string {
	return fmt.Sprintf("%d-%d", chatID, ordinal)
}

// Message is the complete message record as stored in the messages
// collection. Its natural key combines chat id and message ordinal.
type Message struct {
	Key        string      `bson:"_id"`
	Ordinal    int64       `bson:"message_id"`
	Chat       ChatRef     `bson:"chat"`
	FromUser   *UserRef    `bson:"from_user,omitempty"`
	Date       time.Time   `bson:"date,omitempty"`
	Text       string      `bson:"text,omitempty"`
	Caption    string      `bson:"caption,omitempty"`
	Views      *int64      `bson:"views,omitempty"`
	Language   string      `bson:"language,omitempty"`
	Attachment *Attachment `bson:"attachment,omitempty"`
	UpdatedAt  time.Time   `bson:"updated_at"`
	ScrapedBy  string      `bson:"scraped_by"`
}

// DocumentKey returns the natural key used for duplicate detection.
func (m Message) DocumentKey() any { return m.Key }
