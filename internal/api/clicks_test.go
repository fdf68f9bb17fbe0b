package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/amplify/internal/clock"
	"github.com/jonesrussell/amplify/internal/domain"
	"github.com/jonesrussell/amplify/internal/logger"
)

type memoryClickStore struct {
	events []domain.ClickEvent
	err    error
}

func (s *memoryClickStore) InsertClicks(_ context.Context, events []domain.ClickEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, events...)
	return nil
}

func newClickRouter(store *memoryClickStore, clk clock.Clock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewClickHandler(store, clk, logger.NewNopLogger())
	router := gin.New()
	router.GET("/click", handler.Handle)
	return router
}

func TestClickHandlerRecordsAndRedirects(t *testing.T) {
	store := &memoryClickStore{}
	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	router := newClickRouter(store, clk)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/click?p=post-1&u=https%3A%2F%2Fexample.com%2Fguide&s=sess-9", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/guide", w.Header().Get("Location"))

	require.Len(t, store.events, 1)
	event := store.events[0]
	assert.Equal(t, "post-1", event.PostID)
	assert.Equal(t, "sess-9", event.SessionID)
	assert.False(t, event.Converted)
	assert.Len(t, event.TargetHash, targetHashLength)
	assert.Equal(t, clk.Now(), event.ClickedAt)
}

func TestClickHandlerConversionPostback(t *testing.T) {
	store := &memoryClickStore{}
	router := newClickRouter(store, clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/click?p=post-1&c=1", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, store.events, 1)
	assert.True(t, store.events[0].Converted)
}

func TestClickHandlerRejectsMissingPostID(t *testing.T) {
	store := &memoryClickStore{}
	router := newClickRouter(store, clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/click?u=https%3A%2F%2Fexample.com", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.events)
}

func TestClickHandlerRedirectsEvenWhenStoreFails(t *testing.T) {
	store := &memoryClickStore{err: errors.New("db down")}
	router := newClickRouter(store, clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/click?p=post-1&u=https%3A%2F%2Fexample.com%2Fguide", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/guide", w.Header().Get("Location"))
}

func TestHashTargetIsStable(t *testing.T) {
	first := hashTarget("https://example.com/guide")
	second := hashTarget("https://example.com/guide")
	other := hashTarget("https://example.com/other")

	assert.Equal(t, first, second)
	assert.Len(t, first, targetHashLength)
	assert.NotEqual(t, first, other)
}
