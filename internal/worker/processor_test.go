package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/pkg/queue"
)

type fakeArchive struct {
	mu    sync.Mutex
	saved []models.HistoricalSession
	err   error
}

func (f *fakeArchive) Save(_ context.Context, s models.HistoricalSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, s)
	return nil
}

type fakeUploader struct {
	key  string
	body []byte
}

func (f *fakeUploader) UploadBackup(_ context.Context, key string, body []byte) error {
	f.key, f.body = key, body
	return nil
}

type fakeJobs struct {
	ch      chan *queue.Job
	mu      sync.Mutex
	retried []*queue.Job
}

func (f *fakeJobs) Dequeue(ctx context.Context) (*queue.Job, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case j := <-f.ch:
		return j, j.Queue, nil
	}
}

func (f *fakeJobs) Retry(_ context.Context, job *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, job)
	return nil
}

func (f *fakeJobs) retries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retried)
}

func job(t *testing.T, typ queue.JobType, payload any) *queue.Job {
	t.Helper()
	body, err := sonic.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: string(typ) + "-1", Type: typ, Payload: body}
}

func TestProcess_Archive(t *testing.T) {
	arch := &fakeArchive{}
	p := NewProcessor(nil, arch, nil, nil)
	sess := models.HistoricalSession{ID: "s1", Platform: models.PlatformTikTok}

	require.NoError(t, p.Process(context.Background(), job(t, queue.JobTypeArchiveSession, queue.ArchiveSessionPayload{Session: sess})))
	require.Len(t, arch.saved, 1)
	assert.Equal(t, "s1", arch.saved[0].ID)
}

func TestProcess_Backup(t *testing.T) {
	up := &fakeUploader{}
	p := NewProcessor(nil, nil, up, nil)

	err := p.Process(context.Background(), job(t, queue.JobTypeHistoryBackup, queue.HistoryBackupPayload{
		Key: "backups/history-x.json", Sessions: []models.HistoricalSession{{ID: "a"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, "backups/history-x.json", up.key)
	assert.Contains(t, string(up.body), `"id": "a"`)

	require.NoError(t, p.Process(context.Background(), job(t, queue.JobTypeHistoryBackup, queue.HistoryBackupPayload{Key: "k"})))
	assert.Equal(t, "[]", string(up.body))
}

func TestProcess_Errors(t *testing.T) {
	p := NewProcessor(nil, nil, nil, nil)
	ctx := context.Background()

	err := p.Process(ctx, job(t, queue.JobTypeArchiveSession, queue.ArchiveSessionPayload{}))
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = p.Process(ctx, job(t, queue.JobTypeHistoryBackup, queue.HistoryBackupPayload{}))
	assert.ErrorIs(t, err, ErrNotConfigured)

	err = p.Process(ctx, &queue.Job{Type: "email", Payload: []byte(`{}`)})
	assert.ErrorContains(t, err, "unknown job type")

	err = p.Process(ctx, &queue.Job{Type: queue.JobTypeArchiveSession, Payload: []byte(`"nope"`)})
	assert.ErrorContains(t, err, "unmarshal payload")
}

func TestRun_RetriesFailedJobsAndStops(t *testing.T) {
	jobs := &fakeJobs{ch: make(chan *queue.Job, 2)}
	arch := &fakeArchive{err: errors.New("db down")}
	p := NewProcessor(jobs, arch, nil, nil)
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	jobs.ch <- job(t, queue.JobTypeArchiveSession, queue.ArchiveSessionPayload{Session: models.HistoricalSession{ID: "s1"}})
	assert.Eventually(t, func() bool { return jobs.retries() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
