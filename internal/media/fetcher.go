package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"

	"github.com/matheus3301/wappd/internal/convstore"
	"github.com/matheus3301/wappd/internal/wa"
)

// Downloader fetches an encrypted media payload. The whatsmeow adapter
// satisfies it; tests substitute a fake.
type Downloader interface {
	Download(ctx context.Context, blob whatsmeow.DownloadableMessage) ([]byte, error)
}

// Task asks the fetcher to resolve one message's media payload.
type Task struct {
	ChatID string
	MsgID  string
	Ref    *wa.MediaRef
}

// Fetcher resolves media payloads off the ingestion path. Messages are
// stored immediately without media; the fetcher downloads the payload,
// writes it under the session's media directory, and patches the
// message afterwards. A failed download marks the message instead of
// blocking it.
type Fetcher struct {
	dir        string
	downloader Downloader
	store      *convstore.Store
	logger     *zap.Logger

	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

const taskBuffer = 64

// NewFetcher creates a fetcher writing payloads into dir.
func NewFetcher(dir string, downloader Downloader, store *convstore.Store, logger *zap.Logger) *Fetcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Fetcher{
		dir:        dir,
		downloader: downloader,
		store:      store,
		logger:     logger,
		tasks:      make(chan Task, taskBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the download worker. Idempotent.
func (f *Fetcher) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	f.started = true
	f.wg.Add(1)
	go f.run()
	return nil
}

// Stop cancels in-flight downloads and waits for the worker to exit.
func (f *Fetcher) Stop() {
	f.mu.Lock()
	started := f.started
	f.started = false
	f.mu.Unlock()
	f.cancel()
	if started {
		f.wg.Wait()
	}
}

// Enqueue schedules a media download. When the queue is full the task
// is dropped and the message marked failed; ingestion never blocks on
// media.
func (f *Fetcher) Enqueue(task Task) {
	if task.Ref == nil || task.Ref.Blob == nil {
		return
	}
	select {
	case f.tasks <- task:
	default:
		f.logger.Warn("media queue full, dropping download",
			zap.String("chat", task.ChatID),
			zap.String("message", task.MsgID))
		f.store.MarkMediaFailed(task.ChatID, task.MsgID, "media queue full")
	}
}

func (f *Fetcher) run() {
	defer f.wg.Done()
	for {
		select {
		case <-f.ctx.Done():
			return
		case task := <-f.tasks:
			f.process(task)
		}
	}
}

func (f *Fetcher) process(task Task) {
	data, err := f.downloader.Download(f.ctx, task.Ref.Blob)
	if err != nil {
		f.logger.Warn("media download failed",
			zap.String("message", task.MsgID),
			zap.Error(err))
		f.store.MarkMediaFailed(task.ChatID, task.MsgID, err.Error())
		return
	}

	name := sanitizeName(task.MsgID) + task.Ref.Ext
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		f.logger.Error("media write failed",
			zap.String("path", path),
			zap.Error(err))
		f.store.MarkMediaFailed(task.ChatID, task.MsgID, err.Error())
		return
	}

	f.store.AttachMedia(task.ChatID, task.MsgID, convstore.Media{
		URL:      name,
		MimeType: task.Ref.MimeType,
		FileName: task.Ref.FileName,
		FileSize: uint64(len(data)),
		Duration: task.Ref.Duration,
	})
	f.logger.Debug("media resolved",
		zap.String("message", task.MsgID),
		zap.Int("bytes", len(data)))
}

// sanitizeName keeps message-id-derived filenames path-safe.
func sanitizeName(id string) string {
	out := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
