package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBotServer(t *testing.T, updates string, sendOK bool) (*Bot, *[]string) {
	t.Helper()
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			_, _ = w.Write([]byte(updates))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var req map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			sent = append(sent, req["chat_id"]+": "+req["text"])
			_ = json.NewEncoder(w).Encode(map[string]bool{"ok": sendOK})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return NewBot("token", WithAPIBase(srv.URL)), &sent
}

const sampleUpdates = `{"ok":true,"result":[
	{"message":{"from":{"username":"Bob"},"chat":{"id":1001}}},
	{"message":{"from":{"username":"alice"},"chat":{"id":2002}}},
	{"message":null}
]}`

func TestResolveChat(t *testing.T) {
	bot, _ := newBotServer(t, sampleUpdates, true)

	chatID, err := bot.ResolveChat(context.Background(), "@Alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2002), chatID)

	chatID, err = bot.ResolveChat(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), chatID)

	_, err = bot.ResolveChat(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrChatNotFound)
}

func TestResolveChatNotConfigured(t *testing.T) {
	bot := NewBot("")
	_, err := bot.ResolveChat(context.Background(), "alice")
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendCode(t *testing.T) {
	bot, sent := newBotServer(t, sampleUpdates, true)
	require.NoError(t, bot.SendCode(context.Background(), 2002, "123456"))
	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0], "2002:")
	assert.Contains(t, (*sent)[0], "123456")
}

func TestSendCodeFailure(t *testing.T) {
	bot, _ := newBotServer(t, sampleUpdates, false)
	require.ErrorIs(t, bot.SendCode(context.Background(), 2002, "123456"), ErrSendFailed)
}
