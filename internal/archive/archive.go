package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"faceattend/internal/cloudinary"
	"faceattend/internal/metrics"
	"faceattend/internal/queue"
)

// Message types published to the archive queue.
const (
	KindAttendance = "attendance"
	KindStudent    = "student"
)

// Job points at a saved image and the row it belongs to.
type Job struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// Publisher enqueues archive jobs.
type Publisher struct {
	q queue.Queue
}

func NewPublisher(q queue.Queue) *Publisher {
	return &Publisher{q: q}
}

// Archive publishes a job for the image at path.
func (p *Publisher) Archive(ctx context.Context, kind string, id int64, path string) error {
	body, err := json.Marshal(Job{ID: id, Path: path})
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, queue.Message{Type: kind, Body: body})
}

// Uploader stores image bytes remotely.
type Uploader interface {
	UploadBytes(ctx context.Context, data []byte, filename string) (*cloudinary.UploadResult, error)
}

// RecordUpdater records where an attendance image was archived.
type RecordUpdater interface {
	SetArchiveURL(ctx context.Context, id int64, url string) error
}

// Worker consumes archive jobs and copies images to remote storage.
type Worker struct {
	q        queue.Queue
	uploader Uploader
	records  RecordUpdater
	log      logrus.FieldLogger
	readFile func(string) ([]byte, error)
}

func NewWorker(q queue.Queue, uploader Uploader, records RecordUpdater, log logrus.FieldLogger) *Worker {
	return &Worker{q: q, uploader: uploader, records: records, log: log, readFile: os.ReadFile}
}

// Run processes jobs until ctx is cancelled. Failed jobs are logged and dropped.
func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		entry := w.log.WithField("type", msg.Type)
		if err := w.Handle(ctx, msg); err != nil {
			metrics.ArchivedImages.WithLabelValues("failed").Inc()
			entry.WithError(err).Error("archive failed")
			continue
		}
		metrics.ArchivedImages.WithLabelValues("ok").Inc()
	}
	return ctx.Err()
}

// Handle uploads the image named by msg and records its URL.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	data, err := w.readFile(job.Path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	res, err := w.uploader.UploadBytes(ctx, data, filepath.Base(job.Path))
	if err != nil {
		return err
	}

	switch msg.Type {
	case KindAttendance:
		if err := w.records.SetArchiveURL(ctx, job.ID, res.SecureURL); err != nil {
			return fmt.Errorf("record archive url: %w", err)
		}
	case KindStudent:
	default:
		return fmt.Errorf("unknown job type %q", msg.Type)
	}
	w.log.WithFields(logrus.Fields{"type": msg.Type, "id": job.ID, "url": res.SecureURL}).Info("image archived")
	return nil
}
