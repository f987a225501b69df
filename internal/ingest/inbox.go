package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scrypster/storyline/pkg/types"
)

const inboxExt = ".json"

// InboxWatcher processes article batches dropped into a directory as *.json
// files. Each file is removed once handled.
type InboxWatcher struct {
	dir       string
	processor Processor
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

// NewInboxWatcher creates a watcher for dir.
func NewInboxWatcher(dir string, p Processor) *InboxWatcher {
	return &InboxWatcher{
		dir:       dir,
		processor: p,
		done:      make(chan struct{}),
	}
}

// Start drains files already in the inbox, then watches for new ones until
// ctx is cancelled or Stop is called.
func (iw *InboxWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(iw.dir, 0o700); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(iw.dir); err != nil {
		_ = w.Close()
		return err
	}
	iw.watcher = w

	// Files that arrive while draining are seen by both paths; processFile
	// tolerates that because the first reader removes the file.
	iw.drainExisting(ctx)

	go iw.loop(ctx)
	log.Printf("ingest: watching %s for article batches", iw.dir)
	return nil
}

// Stop shuts down the watcher and waits for the loop to exit.
func (iw *InboxWatcher) Stop() {
	if iw.watcher == nil {
		return
	}
	_ = iw.watcher.Close()
	<-iw.done
}

func (iw *InboxWatcher) loop(ctx context.Context) {
	defer close(iw.done)
	for {
		select {
		case evt, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && isInboxFile(evt.Name) {
				iw.processFile(ctx, evt.Name)
			}
		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("ingest: watcher error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

func (iw *InboxWatcher) drainExisting(ctx context.Context) {
	entries, err := os.ReadDir(iw.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && isInboxFile(entry.Name()) {
			iw.processFile(ctx, filepath.Join(iw.dir, entry.Name()))
		}
	}
}

func (iw *InboxWatcher) processFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // already consumed
	}

	done, err := handle(ctx, iw.processor, "inbox "+filepath.Base(path), data)
	if err != nil {
		log.Printf("ingest: failed to process %s, leaving it in place: %v", filepath.Base(path), err)
	}
	if done {
		_ = os.Remove(path)
	}
}

func isInboxFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, inboxExt) && !strings.HasPrefix(base, ".")
}

// InboxWriter drops batches into an inbox directory. The file appears under
// its final name only once fully written.
type InboxWriter struct {
	dir string
	seq atomic.Uint64
}

// NewInboxWriter creates a writer for dir.
func NewInboxWriter(dir string) *InboxWriter {
	return &InboxWriter{dir: dir}
}

// Drop writes articles as one batch file and returns its path.
// Safe to call concurrently.
func (w *InboxWriter) Drop(articles []types.Article) (string, error) {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return "", fmt.Errorf("ingest: mkdir %s: %w", w.dir, err)
	}
	data, err := json.Marshal(articles)
	if err != nil {
		return "", fmt.Errorf("ingest: encode batch: %w", err)
	}

	name := fmt.Sprintf("%d-%d%s", time.Now().UnixNano(), w.seq.Add(1), inboxExt)
	tmp, err := os.CreateTemp(w.dir, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("ingest: create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("ingest: write batch: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("ingest: write batch: %w", err)
	}

	path := filepath.Join(w.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("ingest: publish batch: %w", err)
	}
	return path, nil
}
