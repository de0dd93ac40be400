package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTelegram(srv *httptest.Server) *Telegram {
	tg := NewTelegram("token", "123")
	tg.Client = srv.Client()
	tg.apiBase = srv.URL
	tg.backoff = time.Millisecond
	return tg
}

func TestTelegramSendTextRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := testTelegram(srv).SendText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTelegramSendTextExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := testTelegram(srv).SendText(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")
}

func TestTelegramSendTextHonorsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := testTelegram(srv).SendText(ctx, "hello")
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "取消后不再等待重试间隔")
}

func TestTelegramSendTextRejectsIncompleteConfig(t *testing.T) {
	err := NewTelegram("", "").SendText(context.Background(), "hello")
	assert.Error(t, err)
}
