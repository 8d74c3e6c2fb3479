package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ascension/internal/bot"
)

type apiCall struct {
	method string
	body   map[string]any
}

// fakeAPI records Bot API calls and answers them with canned results.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	updates []Update
	fail    map[string]string
	sent    chan struct{}
}

func newFakeAPI(t *testing.T) (*fakeAPI, *Client) {
	t.Helper()
	f := &fakeAPI{fail: map[string]string{}, sent: make(chan struct{}, 16)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, NewClient(srv.URL, "123:secret")
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{method: method, body: body})
	desc, failing := f.fail[method]
	var updates []Update
	if method == "getUpdates" {
		updates, f.updates = f.updates, nil
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failing {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": desc})
		return
	}
	var result any = true
	switch method {
	case "sendMessage":
		result = Message{MessageID: 77, Chat: Chat{ID: int64(body["chat_id"].(float64))}}
		f.sent <- struct{}{}
	case "getUpdates":
		if updates == nil {
			updates = []Update{}
		}
		result = updates
	case "getMe":
		result = User{ID: 1, IsBot: true, Username: "ascension_bot"}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (f *fakeAPI) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

func (f *fakeAPI) last(method string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			return f.calls[i].body
		}
	}
	return nil
}

type staticHandler struct {
	mu    sync.Mutex
	reply bot.Reply
	seen  []bot.Inbound
}

func (h *staticHandler) Handle(_ context.Context, in bot.Inbound) bot.Reply {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, in)
	return h.reply
}

func TestClientSendMessageEncodesKeyboard(t *testing.T) {
	api, client := newFakeAPI(t)
	markup := keyboard([][]bot.Button{{{Label: "🔥 Grind", Callback: "grind"}}, {}})
	msg, err := client.SendMessage(context.Background(), 42, "*hi*", markup)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.MessageID != 77 || msg.Chat.ID != 42 {
		t.Fatalf("message=%+v", msg)
	}
	body := api.last("sendMessage")
	if body["parse_mode"] != "Markdown" || body["text"] != "*hi*" {
		t.Fatalf("body=%v", body)
	}
	rows := body["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	if len(rows) != 1 {
		t.Fatalf("empty rows should be dropped: %v", rows)
	}
	button := rows[0].([]any)[0].(map[string]any)
	if button["callback_data"] != "grind" {
		t.Fatalf("button=%v", button)
	}
}

func TestClientErrors(t *testing.T) {
	api, client := newFakeAPI(t)
	api.fail["editMessageText"] = "Bad Request: message is not modified"
	api.fail["sendMessage"] = "Bad Request: chat not found"

	if err := client.EditMessageText(context.Background(), 1, 2, "x", nil); !errors.Is(err, ErrNotModified) {
		t.Fatalf("got %v want ErrNotModified", err)
	}
	_, err := client.SendMessage(context.Background(), 1, "x", nil)
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("got %v", err)
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	_, err = NewClient(dead.URL, "123:secret").GetMe(context.Background())
	if err == nil || strings.Contains(err.Error(), "secret") {
		t.Fatalf("connection error should not leak the token: %v", err)
	}
}

func TestUpdateInbound(t *testing.T) {
	msg := Update{Message: &Message{From: &User{ID: 5}, Chat: Chat{ID: -100}, Text: "/grind"}}
	in, ok := msg.Inbound()
	if !ok || in.UserID != "5" || in.ChatID != "-100" || in.Text != "/grind" || in.IsCallback() {
		t.Fatalf("message inbound=%+v ok=%v", in, ok)
	}

	cb := Update{CallbackQuery: &CallbackQuery{ID: "q", From: User{ID: 6}, Data: "lb_xp", Message: &Message{Chat: Chat{ID: 6}}}}
	in, ok = cb.Inbound()
	if !ok || in.UserID != "6" || in.Callback != "lb_xp" || !in.IsCallback() {
		t.Fatalf("callback inbound=%+v ok=%v", in, ok)
	}

	if _, ok := (Update{Message: &Message{Chat: Chat{ID: 1}, Text: "post"}}).Inbound(); ok {
		t.Fatalf("message without sender should be skipped")
	}
}

func TestProcessMessageSendsReply(t *testing.T) {
	api, client := newFakeAPI(t)
	h := &staticHandler{reply: bot.Reply{Text: "menu", Buttons: [][]bot.Button{{{Label: "A", Callback: "a"}}}}}
	d := NewDispatcher(client, h, nil, 2)

	err := d.Process(context.Background(), Update{UpdateID: 1, Message: &Message{From: &User{ID: 9}, Chat: Chat{ID: 9}, Text: "/menu"}})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := api.methods(); len(got) != 1 || got[0] != "sendMessage" {
		t.Fatalf("calls=%v", got)
	}
}

func TestProcessCallbackPlaysPreludeThenEdits(t *testing.T) {
	api, client := newFakeAPI(t)
	h := &staticHandler{reply: bot.Reply{
		Text:    "What was the FINAL emoji?",
		Buttons: [][]bot.Button{{{Label: "🔥", Callback: "rush:t:0"}}},
		Prelude: []bot.Frame{{Text: "🔥", Hold: time.Millisecond}, {Text: "⚡", Hold: time.Millisecond}},
	}}
	d := NewDispatcher(client, h, nil, 2)

	u := Update{UpdateID: 2, CallbackQuery: &CallbackQuery{
		ID: "cq", From: User{ID: 3}, Data: "rush:start",
		Message: &Message{MessageID: 10, Chat: Chat{ID: 3}},
	}}
	if err := d.Process(context.Background(), u); err != nil {
		t.Fatalf("process: %v", err)
	}
	want := []string{"answerCallbackQuery", "editMessageText", "editMessageText", "editMessageText"}
	got := api.methods()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("calls=%v want %v", got, want)
	}
	final := api.last("editMessageText")
	if final["text"] != "What was the FINAL emoji?" || final["reply_markup"] == nil || final["message_id"].(float64) != 10 {
		t.Fatalf("final edit=%v", final)
	}
}

func TestProcessMessageWithPreludeEditsSentMessage(t *testing.T) {
	api, client := newFakeAPI(t)
	h := &staticHandler{reply: bot.Reply{
		Text:    "TAP NOW",
		Prelude: []bot.Frame{{Text: "Get ready", Hold: time.Millisecond}},
	}}
	d := NewDispatcher(client, h, nil, 1)
	if err := d.Process(context.Background(), Update{Message: &Message{From: &User{ID: 1}, Chat: Chat{ID: 1}}}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := strings.Join(api.methods(), ","); got != "sendMessage,editMessageText" {
		t.Fatalf("calls=%s", got)
	}
	if edit := api.last("editMessageText"); edit["message_id"].(float64) != 77 || edit["text"] != "TAP NOW" {
		t.Fatalf("edit=%v", edit)
	}
}

func TestPollerDispatchesAndAdvancesOffset(t *testing.T) {
	api, client := newFakeAPI(t)
	api.updates = []Update{
		{UpdateID: 40, Message: &Message{From: &User{ID: 1}, Chat: Chat{ID: 1}, Text: "/start"}},
		{UpdateID: 41, Message: &Message{From: &User{ID: 2}, Chat: Chat{ID: 2}, Text: "/menu"}},
	}
	h := &staticHandler{reply: bot.Reply{Text: "ok"}}
	p := NewPoller(client, NewDispatcher(client, h, nil, 2), nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-api.sent:
		case <-time.After(5 * time.Second):
			t.Fatalf("reply %d not sent", i)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	methods := api.methods()
	if methods[0] != "deleteWebhook" {
		t.Fatalf("calls=%v", methods)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	advanced := false
	for _, c := range api.calls {
		if c.method == "getUpdates" && c.body["offset"] == float64(42) {
			advanced = true
		}
	}
	if !advanced {
		t.Fatalf("offset never advanced past 41")
	}
	if len(h.seen) != 2 {
		t.Fatalf("handled=%d", len(h.seen))
	}
}
