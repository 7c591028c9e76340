package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascend-app/ascend/internal/domain/progression"
)

type recordedCall struct {
	method string
	body   map[string]any
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []recordedCall
	reply func(method string, n int) (int, string)
	count atomic.Int64
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{method: method, body: body})
		f.mu.Unlock()

		n := int(f.count.Add(1))
		status, payload := http.StatusOK, `{"ok":true,"result":true}`
		if f.reply != nil {
			status, payload = f.reply(method, n)
		}
		w.WriteHeader(status)
		_, err := w.Write([]byte(payload))
		assert.NoError(t, err)
	})
}

func (f *fakeAPI) last() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig("TOKEN")
	cfg.BaseURL = srv.URL
	cfg.RetryDelay = time.Millisecond
	cfg.SendRate = 0
	return NewClient(cfg)
}

func TestClient_SendWithKeyboard(t *testing.T) {
	api := &fakeAPI{reply: func(string, int) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":7,"chat":{"id":42,"type":"private"}}}`
	}}
	client := newTestClient(t, api)

	kb := NewKeyboard().Row(Button("✅ Done", "complete:3")).Row(WebAppButton("Open", "https://app.example")).Build()
	msg, err := client.SendWithKeyboard(context.Background(), 42, "hello", kb)
	require.NoError(t, err)
	assert.Equal(t, int64(7), msg.MessageID)

	call := api.last()
	assert.Equal(t, "sendMessage", call.method)
	assert.EqualValues(t, 42, call.body["chat_id"])
	markup := call.body["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	require.Len(t, markup, 2)
	webApp := markup[1].([]any)[0].(map[string]any)["web_app"].(map[string]any)
	assert.Equal(t, "https://app.example", webApp["url"])
}

func TestClient_RetriesServerErrors(t *testing.T) {
	api := &fakeAPI{reply: func(_ string, n int) (int, string) {
		if n < 3 {
			return http.StatusBadGateway, `<html>bad gateway</html>`
		}
		return http.StatusOK, `{"ok":true,"result":true}`
	}}
	client := newTestClient(t, api)

	require.NoError(t, client.AnswerCallbackQuery(context.Background(), "cb", "", false))
	assert.EqualValues(t, 3, api.count.Load())
}

func TestClient_DoesNotRetryBlockedUser(t *testing.T) {
	api := &fakeAPI{reply: func(string, int) (int, string) {
		return http.StatusForbidden, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
	}}
	client := newTestClient(t, api)

	_, err := client.SendText(context.Background(), 1, "hi")
	require.Error(t, err)
	assert.True(t, IsUserBlocked(err))
	assert.EqualValues(t, 1, api.count.Load())
}

func TestClient_EditNotModifiedIsNotAnError(t *testing.T) {
	api := &fakeAPI{reply: func(string, int) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`
	}}
	client := newTestClient(t, api)

	assert.NoError(t, client.EditMessageText(context.Background(), 1, 2, "same", nil))
}

func TestClient_PollingAdvancesOffset(t *testing.T) {
	var offsets []float64
	var mu sync.Mutex
	api := &fakeAPI{}
	api.reply = func(_ string, n int) (int, string) {
		call := api.last()
		mu.Lock()
		off, _ := call.body["offset"].(float64)
		offsets = append(offsets, off)
		mu.Unlock()
		if n == 1 {
			return http.StatusOK, `{"ok":true,"result":[{"update_id":10,"message":{"message_id":1,"chat":{"id":5,"type":"private"},"text":"hi"}}]}`
		}
		return http.StatusOK, `{"ok":true,"result":[]}`
	}
	client := newTestClient(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	var handled atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- client.StartPolling(ctx, func(_ context.Context, u *Update) error {
			handled.Add(1)
			assert.Equal(t, int64(10), u.UpdateID)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return api.count.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.EqualValues(t, 1, handled.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, float64(11), offsets[1])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&APIError{Code: 429, RetryAfter: 1}))
	assert.True(t, IsRetryable(&APIError{Code: 502}))
	assert.False(t, IsRetryable(&APIError{Code: 400}))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestExtractCommand(t *testing.T) {
	msg := &Message{Text: "/start@ascend_bot ref", Entities: []MessageEntity{{Type: "bot_command", Offset: 0, Length: 17}}}
	assert.Equal(t, "start", ExtractCommand(msg))
	assert.Equal(t, "ref", ExtractCommandArgs(msg))

	assert.Equal(t, "", ExtractCommand(&Message{Text: "hello"}))
	assert.Equal(t, "", ExtractCommand(nil))
}

func TestNotifier_RankUpCarriesMiniAppButton(t *testing.T) {
	api := &fakeAPI{reply: func(string, int) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":1,"chat":{"id":42,"type":"private"}}}`
	}}
	notifier := NewNotifier(newTestClient(t, api), "https://app.example")

	require.NoError(t, notifier.NotifyRankUp(context.Background(), 42, progression.StageExpert))

	call := api.last()
	assert.EqualValues(t, 42, call.body["chat_id"])
	assert.Contains(t, call.body["text"], "Expert")
	assert.NotNil(t, call.body["reply_markup"])
}

func TestNotifier_NoKeyboardWithoutMiniApp(t *testing.T) {
	api := &fakeAPI{reply: func(string, int) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":1,"chat":{"id":42,"type":"private"}}}`
	}}
	notifier := NewNotifier(newTestClient(t, api), "")

	require.NoError(t, notifier.NotifyRankUp(context.Background(), 42, progression.StageApprentice))
	_, hasMarkup := api.last().body["reply_markup"]
	assert.False(t, hasMarkup)
}
