package app

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wavebot/internal/storage"
	"wavebot/internal/transport"
	"wavebot/internal/waveplate"
	"wavebot/pkg/logx"
)

type sentMsg struct {
	chatID int64
	text   string
}

type recordingAdapter struct {
	mu       sync.Mutex
	sent     []sentMsg
	edits    []sentMsg
	answers  []string
	editsRef []transport.MessageRef
}

func (a *recordingAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *recordingAdapter) Stop(context.Context) error                           { return nil }

func (a *recordingAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMsg{chatID: to.ChatID, text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(a.sent)}, nil
}

func (a *recordingAdapter) EditText(_ context.Context, ref transport.MessageRef, text string, _ *transport.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, sentMsg{chatID: ref.ChatID, text: text})
	a.editsRef = append(a.editsRef, ref)
	return nil
}

func (a *recordingAdapter) SetMenuCommands(context.Context, []transport.MenuCommand) error {
	return nil
}

func (a *recordingAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, text)
	return nil
}

func (a *recordingAdapter) lastSent(t *testing.T) sentMsg {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return a.sent[len(a.sent)-1]
}

type nopSink struct{}

func (nopSink) NotifyCapReached(context.Context, int64) error { return nil }

func newTestApp(t *testing.T) (*App, *recordingAdapter) {
	t.Helper()
	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tracker := waveplate.NewTracker(waveplate.DefaultRules(), store, nopSink{}, logx.Nop())
	t.Cleanup(tracker.Close)

	adapter := &recordingAdapter{}
	a := &App{tracker: tracker, log: logx.Nop()}
	a.cmdm = NewCommandManager(
		&Env{Adapter: adapter, Tracker: tracker, Log: logx.Nop()},
		1,
		MWPanicRecover(),
	)
	a.cmdm.UseCallback(CBPanicRecover())
	a.registerCommands(a.cmdm)
	return a, adapter
}

func msgUpdate(userID int64, text string) transport.Update {
	return transport.Update{
		Kind: transport.UpdateMessage,
		Message: &transport.Message{
			ID: 1, ChatID: userID, FromID: userID, Text: text,
		},
	}
}

func cbUpdate(userID int64, data string) transport.Update {
	return transport.Update{
		Kind: transport.UpdateCallback,
		Callback: &transport.Callback{
			ID: "cb1", ChatID: userID, FromID: userID, MessageID: 7, Data: data,
		},
	}
}

func TestStartRegistersAtCap(t *testing.T) {
	t.Parallel()
	a, adapter := newTestApp(t)
	ctx := context.Background()

	a.cmdm.dispatch(ctx, msgUpdate(42, "/start"))

	got := adapter.lastSent(t)
	if got.chatID != 42 {
		t.Fatalf("sent to chat %d", got.chatID)
	}
	if !strings.Contains(got.text, "Welcome") {
		t.Fatalf("first /start missing welcome: %q", got.text)
	}
	if !strings.Contains(got.text, "240/240") {
		t.Fatalf("new user not shown at cap: %q", got.text)
	}
	if a.tracker.Scheduler().Len() != 0 {
		t.Fatal("timer armed for a user at cap")
	}

	// repeat /start: no welcome, still works
	a.cmdm.dispatch(ctx, msgUpdate(42, "/start"))
	if got := adapter.lastSent(t); strings.Contains(got.text, "Welcome") {
		t.Fatalf("repeat /start welcomed again: %q", got.text)
	}
}

func TestSetCommand(t *testing.T) {
	t.Parallel()
	a, adapter := newTestApp(t)
	ctx := context.Background()

	a.cmdm.dispatch(ctx, msgUpdate(42, "/set 130"))
	got := adapter.lastSent(t)
	if !strings.Contains(got.text, "130/240") {
		t.Fatalf("set reply = %q", got.text)
	}
	if _, ok := a.tracker.Scheduler().Pending(42); !ok {
		t.Fatal("no timer after /set")
	}

	a.cmdm.dispatch(ctx, msgUpdate(42, "/set 999"))
	if got := adapter.lastSent(t); !strings.Contains(got.text, "between 0 and 240") {
		t.Fatalf("out-of-range reply = %q", got.text)
	}

	a.cmdm.dispatch(ctx, msgUpdate(42, "/set abc"))
	if got := adapter.lastSent(t); !strings.Contains(got.text, "between 0 and 240") {
		t.Fatalf("non-numeric reply = %q", got.text)
	}

	a.cmdm.dispatch(ctx, msgUpdate(42, "/set"))
	if got := adapter.lastSent(t); !strings.Contains(got.text, "Usage") {
		t.Fatalf("usage reply = %q", got.text)
	}
}

func TestStatusUnregistered(t *testing.T) {
	t.Parallel()
	a, adapter := newTestApp(t)

	a.cmdm.dispatch(context.Background(), msgUpdate(42, "/status"))
	if got := adapter.lastSent(t); !strings.Contains(got.text, "/start") {
		t.Fatalf("unregistered status reply = %q", got.text)
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	a, adapter := newTestApp(t)

	a.cmdm.dispatch(context.Background(), msgUpdate(42, "/frobnicate"))
	if got := adapter.lastSent(t); !strings.Contains(got.text, "Unknown command") {
		t.Fatalf("reply = %q", got.text)
	}
}

func TestCommandNameNormalization(t *testing.T) {
	t.Parallel()
	a, adapter := newTestApp(t)

	// group-chat form with bot mention
	a.cmdm.dispatch(context.Background(), msgUpdate(42, "/status@wavebot"))
	if got := adapter.lastSent(t); strings.Contains(got.text, "Unknown") {
		t.Fatalf("mention form not routed: %q", got.text)
	}
}

func TestResetCallback(t *testing.T) {
	t.Parallel()
	a, adapter := newTestApp(t)
	ctx := context.Background()

	a.cmdm.dispatch(ctx, msgUpdate(42, "/start"))
	a.cmdm.dispatch(ctx, cbUpdate(42, "\fwp:set_zero"))

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.edits) != 1 {
		t.Fatalf("%d edits, want 1", len(adapter.edits))
	}
	if !strings.Contains(adapter.edits[0].text, "0/240") {
		t.Fatalf("edit text = %q", adapter.edits[0].text)
	}
	if adapter.editsRef[0].MessageID != 7 {
		t.Fatalf("edited message %d, want 7", adapter.editsRef[0].MessageID)
	}
	found := false
	for _, ans := range adapter.answers {
		if strings.Contains(ans, "Timer reset") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no reset confirmation in answers %q", adapter.answers)
	}
}

func TestRefreshCallback(t *testing.T) {
	t.Parallel()
	a, adapter := newTestApp(t)
	ctx := context.Background()

	a.cmdm.dispatch(ctx, msgUpdate(42, "/set 100"))
	a.cmdm.dispatch(ctx, cbUpdate(42, "wp:status"))

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.edits) != 1 {
		t.Fatalf("%d edits, want 1", len(adapter.edits))
	}
	if !strings.Contains(adapter.edits[0].text, "100/240") {
		t.Fatalf("edit text = %q", adapter.edits[0].text)
	}
}

func TestCallbackPanicRecovered(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t)
	a.cmdm.RegisterCallback("wp", "boom", func(context.Context, *Env, *transport.Callback) error {
		panic("unexpected state")
	})

	// must not escape the dispatcher
	a.cmdm.dispatch(context.Background(), cbUpdate(42, "wp:boom"))
}

func TestRenderStatus(t *testing.T) {
	t.Parallel()

	st := waveplate.Status{Registered: false, Cap: 240}
	if got := renderStatus(st); !strings.Contains(got, "/start") {
		t.Fatalf("unregistered render = %q", got)
	}

	st = waveplate.Status{Registered: true, Level: 240, Cap: 240}
	if got := renderStatus(st); !strings.Contains(got, "full") && !strings.Contains(got, "240/240") {
		t.Fatalf("capped render = %q", got)
	}

	st = waveplate.Status{
		Registered: true,
		Level:      100,
		Cap:        240,
		TimeToCap:  14 * time.Hour,
		CapAt:      time.Now().Add(14 * time.Hour),
	}
	got := renderStatus(st)
	if !strings.Contains(got, "100/240") || !strings.Contains(got, "14h 0m") {
		t.Fatalf("render = %q", got)
	}
}

func TestFmtDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0m"},
		{30 * time.Second, "1m"}, // rounds
		{45 * time.Minute, "45m"},
		{time.Hour, "1h 0m"},
		{26*time.Hour + 30*time.Minute, "26h 30m"},
		{-time.Minute, "0m"},
	}
	for _, tc := range tests {
		if got := fmtDuration(tc.d); got != tc.want {
			t.Fatalf("fmtDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}
