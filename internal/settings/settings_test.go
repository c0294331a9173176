package settings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/internal/store"
)

func TestService_Defaults(t *testing.T) {
	svc := NewService(store.NewMemory())
	got, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), got)
	assert.True(t, got.ShowCapsule)
	assert.Equal(t, 30, got.DailyTimeLimit)
	assert.Equal(t, models.BlockScopeShorts, got.FocusBlockScope)
}

func TestService_UpdateWritesOnlyGivenKeys(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewService(mem)

	on := true
	limit := 45
	got, err := svc.Update(ctx, Patch{DailyTimeLimitEnabled: &on, DailyTimeLimit: &limit})
	require.NoError(t, err)
	assert.True(t, got.DailyTimeLimitEnabled)
	assert.Equal(t, 45, got.DailyTimeLimit)
	assert.True(t, got.ShowCapsule)

	raw, err := mem.Get(ctx, Keys...)
	require.NoError(t, err)
	assert.Len(t, raw, 2)
	assert.Equal(t, []byte(`45`), raw[KeyDailyTimeLimit])
}

func TestService_WrongTypeKeepsDefault(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Set(ctx, map[string][]byte{KeyDailyTimeLimit: []byte(`"lots"`)}))

	got, err := NewService(mem).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultDailyTimeLimit, got.DailyTimeLimit)
}

func TestPatch_Validate(t *testing.T) {
	scope := func(s string) *string { return &s }
	limit := func(n int) *int { return &n }

	tests := []struct {
		name    string
		patch   Patch
		wantErr bool
	}{
		{name: "empty", patch: Patch{}},
		{name: "fullsite", patch: Patch{FocusBlockScope: scope(models.BlockScopeFullSite)}},
		{name: "bad_scope", patch: Patch{FocusBlockScope: scope("everything")}, wantErr: true},
		{name: "zero_limit", patch: Patch{DailyTimeLimit: limit(0)}, wantErr: true},
		{name: "positive_limit", patch: Patch{DailyTimeLimit: limit(10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(NewService(store.NewMemory()))
	r.GET("/settings", h.Get)
	r.PATCH("/settings", h.Update)

	req := httptest.NewRequest(http.MethodPatch, "/settings", strings.NewReader(`{"focusMode":true,"focusBlockScope":"fullsite"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"focusMode":true`)
	assert.Contains(t, w.Body.String(), `"focusBlockScope":"fullsite"`)

	req = httptest.NewRequest(http.MethodPatch, "/settings", strings.NewReader(`{"dailyTimeLimit":-5}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/settings", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"focusMode":true`)
}
