package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scrypster/storyline/internal/changes"
	"github.com/scrypster/storyline/internal/storage"
	"github.com/scrypster/storyline/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProcessor struct {
	mu      sync.Mutex
	batches [][]types.Article
	got     chan struct{}
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{got: make(chan struct{}, 16)}
}

func (f *fakeProcessor) ProcessArticles(ctx context.Context, articles []types.Article) (*changes.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	articles, rejected := types.SplitValid(articles)
	if len(articles) == 0 && len(rejected) > 0 {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, rejected[0])
	}
	f.mu.Lock()
	f.batches = append(f.batches, articles)
	f.mu.Unlock()
	f.got <- struct{}{}
	return &changes.Result{New: len(articles)}, nil
}

func (f *fakeProcessor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func TestDecodeBatch(t *testing.T) {
	batch, err := DecodeBatch([]byte(`{"id":"a1","title":"One"}`))
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "a1", batch[0].ID)

	batch, err = DecodeBatch([]byte("  [{\"id\":\"a1\",\"title\":\"One\"},{\"id\":\"a2\",\"title\":\"Two\"}]\n"))
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	_, err = DecodeBatch([]byte(`{"id":`))
	assert.Error(t, err)
	_, err = DecodeBatch([]byte("   "))
	assert.Error(t, err)
}

func TestHandle(t *testing.T) {
	p := newFakeProcessor()
	ctx := context.Background()

	done, err := handle(ctx, p, "test", []byte("not json"))
	assert.NoError(t, err)
	assert.True(t, done, "undecodable payloads are not retried")

	done, err = handle(ctx, p, "test", []byte(`{"id":"a1"}`))
	assert.NoError(t, err)
	assert.True(t, done, "invalid articles are not retried")

	done, err = handle(ctx, p, "test", []byte(`[]`))
	assert.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, p.count())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	done, err = handle(cancelled, p, "test", []byte(`{"id":"a1","title":"One"}`))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, done, "a cancelled batch is left for redelivery")

	done, err = handle(ctx, p, "test", []byte(`{"id":"a1","title":"One"}`))
	assert.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 1, p.count())
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "articles" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 3 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestGroupHandler_MarksProcessedAndPoisonMessages(t *testing.T) {
	p := newFakeProcessor()
	h := &groupHandler{processor: p, ready: make(chan struct{})}
	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}

	require.NoError(t, h.Setup(session))
	require.NoError(t, h.Setup(session), "setup runs once per rebalance")

	claim.messages <- &sarama.ConsumerMessage{Topic: "articles", Offset: 0, Value: []byte(`{"id":"a1","title":"One"}`)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "articles", Offset: 1, Value: []byte(`{{{`)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "articles", Offset: 2, Value: []byte(`[{"id":"a2","title":"Two"},{"id":"a3","title":"Three"}]`)}
	close(claim.messages)

	require.NoError(t, h.ConsumeClaim(session, claim))
	require.NoError(t, h.Cleanup(session))

	assert.Equal(t, []int64{0, 1, 2}, session.marked)
	require.Equal(t, 2, p.count())
	assert.Len(t, p.batches[1], 2)
}

func TestGroupHandler_StopsWhenSessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &groupHandler{processor: newFakeProcessor(), ready: make(chan struct{})}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	assert.NoError(t, h.ConsumeClaim(&fakeSession{ctx: ctx}, claim))
}

func TestNewKafkaConsumer_RequiresTopic(t *testing.T) {
	_, err := NewKafkaConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}}, newFakeProcessor())
	assert.Error(t, err)
}

func TestInboxWriter_DropsCompleteFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewInboxWriter(dir)

	path, err := w.Drop([]types.Article{{ID: "a1", Title: "One"}})
	require.NoError(t, err)
	assert.Equal(t, ".json", filepath.Ext(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp file is left behind")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	batch, err := DecodeBatch(data)
	require.NoError(t, err)
	assert.Equal(t, "a1", batch[0].ID)
}

func TestInboxWatcher_DrainsAndWatches(t *testing.T) {
	dir := t.TempDir()
	w := NewInboxWriter(dir)
	p := newFakeProcessor()

	existing, err := w.Drop([]types.Article{{ID: "a1", Title: "One"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	watcher := NewInboxWatcher(dir, p)
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	assert.Equal(t, 1, p.count(), "existing batches are drained on start")
	<-p.got
	assert.NoFileExists(t, existing)
	assert.NoFileExists(t, filepath.Join(dir, "broken.json"), "undecodable files are discarded")
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	// Give fsnotify a moment to register
	time.Sleep(50 * time.Millisecond)

	dropped, err := w.Drop([]types.Article{{ID: "a2", Title: "Two"}})
	require.NoError(t, err)

	select {
	case <-p.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: dropped batch was never processed")
	}
	assert.Eventually(t, func() bool {
		_, err := os.Stat(dropped)
		return os.IsNotExist(err)
	}, 2*time.Second, 20*time.Millisecond)
}
