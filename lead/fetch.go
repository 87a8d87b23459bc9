package lead

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/leadrelay/leadrelay/core/logger"
	"log/slog"
)

// Fetcher stages remote objects as local scratch files for one dispatch.
type Fetcher struct {
	objects ObjectStore
	dir     string
}

// NewFetcher builds a Fetcher. An empty scratchDir falls back to the
// system temp directory.
func NewFetcher(objects ObjectStore, scratchDir string) *Fetcher {
	return &Fetcher{objects: objects, dir: scratchDir}
}

// FetchBatch streams every keyed object into a fresh scratch file,
// preserving the original extension and display name (object metadata
// "name", falling back to the trailing key segment). Order of the result
// matches the order of keys. A failure on any key removes everything
// fetched so far and aborts the batch.
func (f *Fetcher) FetchBatch(ctx context.Context, keys []string) ([]Attachment, error) {
	batch := make([]Attachment, 0, len(keys))
	for _, key := range keys {
		att, err := f.fetchOne(ctx, key)
		if err != nil {
			ReleaseLocal(batch)
			return nil, &RetrievalError{Key: key, Err: err}
		}
		batch = append(batch, att)
	}
	logger.Debug(ctx, "lead", "attachments.fetched",
		slog.Int("count", len(batch)),
	)
	return batch, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, key string) (Attachment, error) {
	body, info, err := f.objects.GetObject(ctx, key)
	if err != nil {
		return Attachment{}, err
	}
	defer body.Close()

	name := info.DisplayName
	if name == "" {
		name = path.Base(key)
	}

	tmp, err := os.CreateTemp(f.dir, "lead-*"+filepath.Ext(name))
	if err != nil {
		return Attachment{}, fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return Attachment{}, fmt.Errorf("stream object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return Attachment{}, fmt.Errorf("close scratch file: %w", err)
	}

	return Attachment{
		RemoteKey:   key,
		LocalPath:   tmp.Name(),
		DisplayName: name,
		MimeHint:    info.ContentType,
		Kind:        DetectKind(name, info.ContentType),
	}, nil
}

// PurgeBatch deletes the remote copies of the given keys.
func (f *Fetcher) PurgeBatch(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := f.objects.DeleteObject(ctx, key); err != nil {
			errs = append(errs, &RetrievalError{Key: key, Err: err})
		}
	}
	return errors.Join(errs...)
}

// ReleaseLocal removes the local scratch files of a batch. It tolerates
// files that are already gone, so it is safe on every exit path.
func ReleaseLocal(batch []Attachment) {
	for _, att := range batch {
		if att.LocalPath == "" {
			continue
		}
		if err := os.Remove(att.LocalPath); err != nil && !os.IsNotExist(err) {
			logger.Warn(context.Background(), "lead", "attachments.release_failed",
				slog.String("path", att.LocalPath),
				slog.String("err", err.Error()),
			)
		}
	}
}
