package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/internal/store"
	"github.com/SeanDreamHsu/shorts-counter/internal/tracker"
	"github.com/SeanDreamHsu/shorts-counter/pkg/storage"
)

type seqID struct{ n int }

func (s *seqID) NewID() string {
	s.n++
	return fmt.Sprintf("gen-%d", s.n)
}

func newService(t *testing.T, seed ...models.HistoricalSession) (*Service, *tracker.StateRepository) {
	t.Helper()
	state := tracker.NewStateRepository(store.NewMemory())
	serial := tracker.NewSerializer(nil)
	t.Cleanup(serial.Close)
	if len(seed) > 0 {
		require.NoError(t, state.Apply(context.Background(), tracker.Patch{}.History(seed)))
	}
	return NewService(state, serial, &seqID{}, nil), state
}

func session(id string, start int64, platform models.Platform) models.HistoricalSession {
	return models.HistoricalSession{
		ID: id, StartTime: start, EndTime: start + 1000, Platform: platform,
		VideoCount: 1, AccumulatedTime: 800, VideoLog: []models.VideoLogEntry{},
	}
}

func TestService_List(t *testing.T) {
	svc, _ := newService(t,
		session("b", 2000, models.PlatformTikTok),
		session("a", 1000, models.PlatformYouTube),
	)
	ctx := context.Background()

	all, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	yt, err := svc.List(ctx, models.PlatformYouTube)
	require.NoError(t, err)
	require.Len(t, yt, 1)
	assert.Equal(t, "a", yt[0].ID)
}

func TestService_Delete(t *testing.T) {
	svc, state := newService(t,
		session("b", 2000, models.PlatformTikTok),
		session("a", 1000, models.PlatformYouTube),
	)
	ctx := context.Background()

	require.NoError(t, svc.Delete(ctx, "b"))
	st, err := state.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, st.History, 1)
	assert.Equal(t, "a", st.History[0].ID)

	assert.ErrorIs(t, svc.Delete(ctx, "missing"), ErrNotFound)
}

func TestService_DeleteMissingIsNotAnOperationFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)
	state := tracker.NewStateRepository(store.NewMemory())
	serial := tracker.NewSerializer(logger)
	svc := NewService(state, serial, &seqID{}, logger)
	ctx := context.Background()
	require.NoError(t, state.Apply(ctx, tracker.Patch{}.History([]models.HistoricalSession{session("a", 1000, models.PlatformYouTube)})))

	assert.ErrorIs(t, svc.Delete(ctx, "missing"), ErrNotFound)
	serial.Close()

	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	st, err := state.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, st.History, 1)
}

func TestService_Reset(t *testing.T) {
	svc, state := newService(t, session("a", 1000, models.PlatformYouTube))
	ctx := context.Background()
	resume := int64(5)
	require.NoError(t, state.Apply(ctx, tracker.Patch{}.Session(&models.ActiveSession{
		StartTime: 5, Platform: models.PlatformYouTube, IsTracking: true, LastResumeTime: &resume,
	}).TrackingTab(3)))

	require.NoError(t, svc.Reset(ctx))
	st, err := state.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.History)
	assert.Nil(t, st.Session)
	assert.Zero(t, st.TrackingTabID)
}

func TestService_Import(t *testing.T) {
	svc, state := newService(t, session("a", 1000, models.PlatformYouTube))
	ctx := context.Background()
	legacyAcc := int64(0)

	res, err := svc.Import(ctx, []ImportRecord{
		{ID: "a", StartTime: 1000, EndTime: 2000, Platform: models.PlatformYouTube},
		{ID: "c", StartTime: 5000, EndTime: 9000, Platform: models.PlatformTikTok, VideoCount: 4},
		{ID: "", StartTime: 3000, EndTime: 3500, Platform: models.PlatformYouTube, AccumulatedTime: &legacyAcc},
		{ID: "bad", StartTime: 4000, EndTime: 4500, Platform: "vine"},
		{ID: "c", StartTime: 5000, EndTime: 9000, Platform: models.PlatformTikTok},
	})
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Imported: 2, Skipped: 3, Total: 3}, res)

	st, err := state.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, st.History, 3)
	assert.Equal(t, "c", st.History[0].ID)
	assert.Equal(t, int64(4000), st.History[0].AccumulatedTime, "missing accumulatedTime falls back to the wall-clock span")
	assert.Equal(t, "gen-1", st.History[1].ID)
	assert.Equal(t, int64(0), st.History[1].AccumulatedTime)
	assert.Equal(t, "a", st.History[2].ID)
}

func TestDecodeImport(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "array", raw: `[{"id":"x","startTime":1,"endTime":2,"platform":"youtube"}]`, want: 1},
		{name: "wrapped", raw: `{"sessions":[{"id":"x"},{"id":"y"}]}`, want: 2},
		{name: "empty_array", raw: `[]`, want: 0},
		{name: "blank", raw: "  ", wantErr: true},
		{name: "object_without_sessions", raw: `{"foo":1}`, wantErr: true},
		{name: "garbage", raw: `[{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeImport([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

type fakeBackups struct {
	got []models.HistoricalSession
	err error
}

func (f *fakeBackups) EnqueueHistoryBackup(_ context.Context, sessions []models.HistoricalSession) (string, string, error) {
	f.got = sessions
	return "job-1", "backups/history.json", f.err
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/history", h.List)
	r.GET("/history/export", h.Export)
	r.POST("/history/import", h.Import)
	r.DELETE("/history/:id", h.Delete)
	r.POST("/history/reset", h.Reset)
	r.POST("/history/backup", h.Backup)
	r.GET("/history/backups", h.ListBackups)
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Routes(t *testing.T) {
	svc, _ := newService(t, session("a", 1000, models.PlatformYouTube))
	backups := &fakeBackups{}
	r := newRouter(NewHandler(svc, backups, func() string { return "2026-03-01" }, nil))

	w := serve(r, http.MethodGet, "/history?platform=vine", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = serve(r, http.MethodGet, "/history/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="shorts-history-2026-03-01.json"`, w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Body.String(), `"id": "a"`)

	w = serve(r, http.MethodPost, "/history/import", `[{"id":"z","startTime":5000,"endTime":6000,"platform":"tiktok","accumulatedTime":900}]`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"imported":1,"skipped":0,"total":2}}`, w.Body.String())

	w = serve(r, http.MethodPost, "/history/backup", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, backups.got, 2)

	w = serve(r, http.MethodDelete, "/history/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(r, http.MethodDelete, "/history/z", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(r, http.MethodPost, "/history/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	list, err := svc.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

type fakeBrowser struct{}

func (fakeBrowser) ListBackups(context.Context) ([]storage.BackupObject, error) {
	return []storage.BackupObject{{Key: "backups/history-1.json", Size: 10, URL: "https://signed"}}, nil
}

func TestHandler_ListBackups(t *testing.T) {
	svc, _ := newService(t)
	h := NewHandler(svc, nil, nil, nil)

	w := serve(newRouter(h), http.MethodGet, "/history/backups", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	h.SetBackupBrowser(fakeBrowser{})
	w = serve(newRouter(h), http.MethodGet, "/history/backups", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"url":"https://signed"`)
}

func TestHandler_BackupUnavailable(t *testing.T) {
	svc, _ := newService(t)

	w := serve(newRouter(NewHandler(svc, nil, nil, nil)), http.MethodPost, "/history/backup", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(newRouter(NewHandler(svc, &fakeBackups{err: errors.New("redis down")}, nil, nil)), http.MethodPost, "/history/backup", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
