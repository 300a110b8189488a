package attachments

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/teledash/teledash/internal/config"
	"github.com/teledash/teledash/internal/domain/chat"
	"github.com/teledash/teledash/internal/domain/scraping"
	"github.com/teledash/teledash/internal/infra/retry"
	"github.com/teledash/teledash/internal/infra/tasks"
	"github.com/teledash/teledash/internal/platform"
	"github.com/teledash/teledash/pkg/common/logger"
)

// platformAttempts is the retry budget for individual platform calls.
const platformAttempts = 3

// maxParallelDownloads bounds concurrent media downloads per unit.
const maxParallelDownloads = 4

// DownloadStore provides the lookups the download stage needs.
type DownloadStore interface {
	Session(ctx context.Context, id string) (scraping.ClientSession, error)
	MessagesByKeys(ctx context.Context, keys []string) ([]chat.Message, error)
}

// Downloader fetches live media for stored messages into a temporary
// directory and hands the files to the process stage.
type Downloader struct {
	store     DownloadStore
	connector platform.Connector
	retrier   *retry.Executor
	queue     tasks.Queue
	policy    config.Scrape
	tmpRoot   string
	log       *logger.Logger
	tracer    trace.Tracer
}

// NewDownloader creates a Downloader writing temporary files under
// tmpRoot.
func NewDownloader(
	store DownloadStore,
	connector platform.Connector,
	retrier *retry.Executor,
	queue tasks.Queue,
	policy config.Scrape,
	tmpRoot string,
	log *logger.Logger,
	tracer trace.Tracer,
) *Downloader {
	return &Downloader{
		store:     store,
		connector: connector,
		retrier:   retrier,
		queue:     queue,
		policy:    policy,
		tmpRoot:   tmpRoot,
		log:       log.With("component", "downloader"),
		tracer:    tracer,
	}
}

// Run executes one download unit of work. Failures on individual messages
// are logged and skipped; the unit's session directory is removed on both
// success and failure.
func (d *Downloader) Run(ctx context.Context, args DownloadArgs) error {
	if !args.Valid() {
		return fmt.Errorf("invalid download unit args")
	}
	if len(d.policy.AttachmentTypes) == 0 {
		return fmt.Errorf("attachment allow-list is empty")
	}

	ctx, span := d.tracer.Start(ctx, "attachments.download",
		trace.WithAttributes(attribute.Int("messages", len(args.MessageKeys))))
	defer span.End()

	session, err := d.store.Session(ctx, args.SessionID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	msgs, err := d.store.MessagesByKeys(ctx, args.MessageKeys)
	if err != nil {
		span.RecordError(err)
		return err
	}

	sess, err := d.connector.Connect(ctx, platform.Credentials{
		APIID:        session.APIID,
		APIHash:      session.APIHash,
		SessionToken: session.SessionToken,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("connecting session %s: %w", session.ID, err)
	}
	defer sess.Close()

	sessionDir := filepath.Join(d.tmpRoot, "sessions", uuid.New().String())
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		span.RecordError(err)
		return fmt.Errorf("creating session dir: %w", err)
	}
	defer os.RemoveAll(sessionDir)

	var (
		mu   sync.Mutex
		jobs []Job
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDownloads)
	for _, msg := range msgs {
		g.Go(func() error {
			job, ok := d.downloadOne(gctx, sess, msg, sessionDir)
			if ok {
				mu.Lock()
				jobs = append(jobs, job)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return err
	}

	d.log.Info(ctx, "downloads finished", "downloaded", len(jobs), "requested", len(args.MessageKeys))

	if len(jobs) == 0 {
		return nil
	}
	return d.queue.Submit(ctx, tasks.KindProcessAttachments, ProcessArgs{Jobs: jobs})
}

// downloadOne fetches the live media for a single stored message. It
// returns ok=false when the message is skipped for any reason.
func (d *Downloader) downloadOne(ctx context.Context, sess platform.Session, msg chat.Message, sessionDir string) (Job, bool) {
	if msg.Attachment == nil || !d.policy.WantsAttachment(msg.Attachment.Type) {
		return Job{}, false
	}

	log := d.log.With("message_key", msg.Key)

	// Stored file references expire, so re-fetch the live message first.
	live, err := retry.DoValue(ctx, d.retrier, platformAttempts, func(ctx context.Context) (platform.MessageInfo, error) {
		return sess.Message(ctx, msg.Chat.ID, msg.Ordinal)
	})
	if err != nil {
		log.Error(ctx, "could not fetch live message", "error", err)
		return Job{}, false
	}
	if live.Media == nil {
		return Job{}, false
	}

	path, err := retry.DoValue(ctx, d.retrier, platformAttempts, func(ctx context.Context) (string, error) {
		return sess.Download(ctx, live.Media.FileID, sessionDir)
	})
	if err != nil {
		log.Error(ctx, "could not download media", "error", err)
		return Job{}, false
	}

	attachmentType := chat.AttachmentType(live.Media.Type)
	bucket := chat.BucketForAttachment(attachmentType)
	fileName, err := d.stage(path, bucket, live.Media.FileUniqueID)
	if err != nil {
		log.Error(ctx, "could not stage download", "error", err)
		return Job{}, false
	}

	language := msg.Language
	if language == "" {
		language = d.policy.FallbackLanguage
	}

	job := Job{
		MessageKey: msg.Key,
		Type:       string(attachmentType),
		Bucket:     bucket,
		FileName:   fileName,
		Language:   language,
	}

	attachment := chat.Attachment{Type: attachmentType, MimeType: live.Media.MimeType}
	if d.policy.OCR.Enabled && attachment.IsImage() {
		job.Action = ActionOCR
	}
	if d.policy.ASR.Enabled && d.policy.ASR.Language == language && attachment.IsAudio() {
		job.Action = ActionASR
	}

	// Stickers and animations render their own previews; everything else
	// gets its smallest thumbnail stored alongside.
	if attachmentType != chat.AttachmentSticker && attachmentType != chat.AttachmentAnimation {
		if thumb := platform.SmallestThumb(live.Media); thumb != nil {
			thumbPath, err := retry.DoValue(ctx, d.retrier, platformAttempts, func(ctx context.Context) (string, error) {
				return sess.Download(ctx, thumb.FileID, sessionDir)
			})
			if err != nil {
				log.Error(ctx, "could not download thumbnail", "error", err)
				return Job{}, false
			}
			thumbName, err := d.stage(thumbPath, chat.ThumbnailBucket, thumb.FileUniqueID)
			if err != nil {
				log.Error(ctx, "could not stage thumbnail", "error", err)
				return Job{}, false
			}
			job.ThumbName = thumbName
		}
	}

	log.Debug(ctx, "attachment downloaded", "type", job.Type, "file", job.FileName)
	return job, true
}

// stage moves a downloaded file into the shared staging directory for its
// bucket, named by the platform's stable file id, and returns the staged
// file name.
func (d *Downloader) stage(path, bucket, fileUniqueID string) (string, error) {
	stageDir := filepath.Join(d.tmpRoot, "downloads", bucket)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return "", err
	}

	name := fileUniqueID + filepath.Ext(path)
	if err := os.Rename(path, filepath.Join(stageDir, name)); err != nil {
		return "", err
	}
	return name, nil
}
