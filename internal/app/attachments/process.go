package attachments

import (
	"context"
	"mime"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teledash/teledash/internal/config"
	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/recognition"
	"github.com/teledash/teledash/pkg/common/logger"
)

// ObjectStore is the object-store capability the pipeline needs.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, object, path, contentType string) error
	Remove(ctx context.Context, bucket, object string) error
}

// ResultStore persists pipeline output onto the owning message.
type ResultStore interface {
	SetAttachmentResult(ctx context.Context, messageKey string, refs []chat.StorageRef, ocr, transcription string) error
}

// Processor uploads staged files to the object store, runs recognition,
// and persists storage refs and recognized text.
type Processor struct {
	objects ObjectStore
	store   ResultStore
	ocr     recognition.OCR
	asr     recognition.ASR
	policy  config.Scrape
	tmpRoot string
	log     *logger.Logger
	tracer  trace.Tracer
}

// NewProcessor creates a Processor reading staged files under tmpRoot.
func NewProcessor(
	objects ObjectStore,
	store ResultStore,
	ocr recognition.OCR,
	asr recognition.ASR,
	policy config.Scrape,
	tmpRoot string,
	log *logger.Logger,
	tracer trace.Tracer,
) *Processor {
	return &Processor{
		objects: objects,
		store:   store,
		ocr:     ocr,
		asr:     asr,
		policy:  policy,
		tmpRoot: tmpRoot,
		log:     log.With("component", "processor"),
		tracer:  tracer,
	}
}

// Run executes one process unit of work. Each job is uploaded, optionally
// recognized, its local file deleted unconditionally, and its storage refs
// persisted. Per-job failures are logged and do not abort the batch.
func (p *Processor) Run(ctx context.Context, args ProcessArgs) error {
	ctx, span := p.tracer.Start(ctx, "attachments.process",
		trace.WithAttributes(attribute.Int("jobs", len(args.Jobs))))
	defer span.End()

	processed := 0
	for _, job := range args.Jobs {
		p.processOne(ctx, job)
		processed++
		p.log.Debug(ctx, "attachment processed", "done", processed, "total", len(args.Jobs))
	}

	return nil
}

func (p *Processor) processOne(ctx context.Context, job Job) {
	log := p.log.With("message_key", job.MessageKey, "object", job.FileName)
	path := filepath.Join(p.tmpRoot, "downloads", job.Bucket, job.FileName)

	var ocrText, asrText string

	if _, err := os.Stat(path); err == nil {
		p.upload(ctx, job.Bucket, job.FileName, path)

		// Recognition runs on the local file, so it must happen before
		// the unconditional delete below.
		switch job.Action {
		case ActionOCR:
			if text, err := p.ocr.RecognizeText(ctx, path, job.Language); err != nil {
				log.Error(ctx, "text recognition failed", "error", err)
			} else {
				ocrText = text
			}
		case ActionASR:
			if text, err := p.asr.Transcribe(ctx, path); err != nil {
				log.Error(ctx, "speech recognition failed", "error", err)
			} else {
				asrText = text
			}
		}

		if err := os.Remove(path); err != nil {
			log.Error(ctx, "could not remove staged file", "error", err)
		}
	} else {
		// A duplicate attachment was staged once and already uploaded by
		// an earlier job in this batch.
		log.Info(ctx, "skipping upload, file already consumed")
	}

	refs := []chat.StorageRef{{Bucket: job.Bucket, Object: job.FileName}}

	if job.ThumbName != "" {
		thumbPath := filepath.Join(p.tmpRoot, "downloads", chat.ThumbnailBucket, job.ThumbName)
		if _, err := os.Stat(thumbPath); err == nil {
			p.upload(ctx, chat.ThumbnailBucket, job.ThumbName, thumbPath)
			if err := os.Remove(thumbPath); err != nil {
				log.Error(ctx, "could not remove staged thumbnail", "error", err)
			}
		}
		refs = append(refs, chat.StorageRef{Bucket: chat.ThumbnailBucket, Object: job.ThumbName})
	}

	if err := p.store.SetAttachmentResult(ctx, job.MessageKey, refs, ocrText, asrText); err != nil {
		log.Error(ctx, "could not persist attachment result", "error", err)
	}
}

func (p *Processor) upload(ctx context.Context, bucket, object, path string) {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if err := p.objects.Upload(ctx, bucket, object, path, contentType); err != nil {
		p.log.Error(ctx, "upload failed", "bucket", bucket, "object", object, "error", err)
	}
}
