package app

import (
	"context"
	"sort"
	"strings"

	"wavebot/internal/transport"
	"wavebot/internal/waveplate"
	"wavebot/pkg/logx"
)

// Env is what every handler gets: the outbound adapter, the tracker, and a
// logger already tagged with request fields.
type Env struct {
	Adapter transport.Adapter
	Tracker *waveplate.Tracker
	Log     logx.Logger
}

type HandlerFunc func(ctx context.Context, env *Env, msg *transport.Message, args []string) error

type CallbackFunc func(ctx context.Context, env *Env, cb *transport.Callback) error

type Command struct {
	Name    string // without the leading slash
	Help    string
	Handler HandlerFunc
}

// CommandManager routes inbound updates to handlers: "/name args..." to
// commands, "scope:action[:payload]" callback data to callback handlers.
// Dispatch runs on a small worker pool so one slow handler does not stall
// the queue.
type CommandManager struct {
	env       *Env
	mw        []Middleware
	cbmw      []CallbackMiddleware
	cmds      map[string]Command
	callbacks map[string]CallbackFunc // keyed by "scope:action"
	workers   int
}

func NewCommandManager(env *Env, workers int, mw ...Middleware) *CommandManager {
	if workers <= 0 {
		workers = 4
	}
	return &CommandManager{
		env:       env,
		mw:        mw,
		cmds:      make(map[string]Command),
		callbacks: make(map[string]CallbackFunc),
		workers:   workers,
	}
}

func (m *CommandManager) Register(cmd Command) {
	m.cmds[strings.ToLower(cmd.Name)] = cmd
}

func (m *CommandManager) RegisterCallback(scope, action string, fn CallbackFunc) {
	m.callbacks[scope+":"+action] = fn
}

// UseCallback appends middleware applied to every callback handler, mirroring
// the chain commands get. Callbacks run on the same worker pool, so an
// unrecovered panic there would take the whole process down.
func (m *CommandManager) UseCallback(mw ...CallbackMiddleware) {
	m.cbmw = append(m.cbmw, mw...)
}

// Commands lists registered commands sorted by name, for /help.
func (m *CommandManager) Commands() []Command {
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sem := make(chan struct{}, m.workers)
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			go func(up transport.Update) {
				defer func() { <-sem }()
				m.dispatch(ctx, up)
			}(up)
		}
	}
}

func (m *CommandManager) dispatch(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			m.dispatchMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			m.dispatchCallback(ctx, up.Callback)
		}
	}
}

func (m *CommandManager) dispatchMessage(ctx context.Context, msg *transport.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	fields := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// strip the @botname suffix Telegram appends in groups
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	args := fields[1:]

	cmd, ok := m.cmds[name]
	if !ok {
		_, _ = m.env.Adapter.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID},
			"Unknown command. Try /help.", nil)
		return
	}

	h := Chain(cmd.Handler, m.mw...)
	if err := h(ctx, m.env, msg, args); err != nil {
		m.env.Log.Error("command failed",
			logx.String("command", name),
			logx.Int64("user_id", msg.FromID),
			logx.Err(err))
	}
}

func (m *CommandManager) dispatchCallback(ctx context.Context, cb *transport.Callback) {
	// telebot prefixes callback data with "\f"
	data := strings.TrimPrefix(strings.TrimSpace(cb.Data), "\f")
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 {
		return
	}
	fn, ok := m.callbacks[parts[0]+":"+parts[1]]
	if !ok {
		_ = m.env.Adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	h := ChainCallback(fn, m.cbmw...)
	if err := h(ctx, m.env, cb); err != nil {
		m.env.Log.Error("callback failed",
			logx.String("data", data),
			logx.Int64("user_id", cb.FromID),
			logx.Err(err))
	}
}
