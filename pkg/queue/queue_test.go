package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
)

type push struct {
	key string
	raw []byte
}

// fakeLists records pushes and replays scripted pops.
type fakeLists struct {
	pushes  []push
	pops    [][]string
	popErr  error
	pushErr error
}

func (f *fakeLists) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.pushErr != nil {
		return redis.NewIntResult(0, f.pushErr)
	}
	for _, v := range values {
		f.pushes = append(f.pushes, push{key: key, raw: v.([]byte)})
	}
	return redis.NewIntResult(int64(len(f.pushes)), nil)
}

func (f *fakeLists) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	if f.popErr != nil {
		return redis.NewStringSliceResult(nil, f.popErr)
	}
	if len(f.pops) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	next := f.pops[0]
	f.pops = f.pops[1:]
	return redis.NewStringSliceResult(next, nil)
}

func decodeJob(t *testing.T, raw []byte) Job {
	t.Helper()
	var j Job
	require.NoError(t, sonic.Unmarshal(raw, &j))
	return j
}

func TestEnqueueArchiveSession(t *testing.T) {
	lists := &fakeLists{}
	q := NewQueue(lists, nil)

	require.NoError(t, q.EnqueueArchiveSession(context.Background(), models.HistoricalSession{ID: "s1", Platform: models.PlatformYouTube}))
	require.Len(t, lists.pushes, 1)
	assert.Equal(t, QueueArchive, lists.pushes[0].key)

	job := decodeJob(t, lists.pushes[0].raw)
	assert.Equal(t, JobTypeArchiveSession, job.Type)
	assert.Equal(t, QueueArchive, job.Queue)
	assert.NotEmpty(t, job.ID)

	var payload ArchiveSessionPayload
	require.NoError(t, sonic.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "s1", payload.Session.ID)
}

func TestEnqueueHistoryBackup(t *testing.T) {
	lists := &fakeLists{}
	q := NewQueue(lists, nil)
	q.now = func() time.Time { return time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC) }

	id, key, err := q.EnqueueHistoryBackup(context.Background(), []models.HistoricalSession{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "backups/history-20260304T123000Z.json", key)
	require.Len(t, lists.pushes, 1)
	assert.Equal(t, QueueBackups, lists.pushes[0].key)

	var payload HistoryBackupPayload
	require.NoError(t, sonic.Unmarshal(decodeJob(t, lists.pushes[0].raw).Payload, &payload))
	assert.Equal(t, key, payload.Key)
	assert.Len(t, payload.Sessions, 2)
}

func TestEnqueue_PushError(t *testing.T) {
	q := NewQueue(&fakeLists{pushErr: errors.New("connection refused")}, nil)
	err := q.EnqueueArchiveSession(context.Background(), models.HistoricalSession{ID: "x"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestDequeue(t *testing.T) {
	raw, err := sonic.Marshal(Job{ID: "j1", Type: JobTypeHistoryBackup})
	require.NoError(t, err)
	lists := &fakeLists{pops: [][]string{
		{QueueBackups, string(raw)},
		{QueueArchive, "{not json"},
	}}
	q := NewQueue(lists, nil)
	ctx := context.Background()

	job, key, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, QueueBackups, key)
	assert.Equal(t, QueueBackups, job.Queue, "legacy jobs without a queue adopt the list they came from")

	job, _, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	job, _, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	lists.popErr = context.Canceled
	_, _, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetry(t *testing.T) {
	lists := &fakeLists{}
	q := NewQueue(lists, nil)
	ctx := context.Background()
	job := &Job{ID: "j1", Type: JobTypeHistoryBackup, Queue: QueueBackups}

	for i := 1; i < MaxRetries; i++ {
		require.NoError(t, q.Retry(ctx, job))
		assert.Equal(t, QueueBackups, lists.pushes[len(lists.pushes)-1].key)
		assert.Equal(t, i, job.Attempt)
	}

	require.NoError(t, q.Retry(ctx, job))
	last := lists.pushes[len(lists.pushes)-1]
	assert.Equal(t, QueueDLQ, last.key)
	assert.Equal(t, MaxRetries, decodeJob(t, last.raw).Attempt)
}
