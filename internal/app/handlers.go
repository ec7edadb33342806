package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wavebot/internal/transport"
	"wavebot/internal/waveplate"
	"wavebot/pkg/tgui"
)

const (
	cbScope       = "wp"
	cbActionZero  = "set_zero"
	cbActionQuery = "status"
)

func (a *App) registerCommands(m *CommandManager) {
	m.Register(Command{Name: "start", Help: "Register and show the tracker", Handler: a.cmdStart})
	m.Register(Command{Name: "set", Help: "Set your current waveplate count: /set 130", Handler: a.cmdSet})
	m.Register(Command{Name: "status", Help: "Show your current waveplates", Handler: a.cmdStatus})
	m.Register(Command{Name: "help", Help: "List commands", Handler: a.cmdHelp})

	m.RegisterCallback(cbScope, cbActionZero, a.cbSetZero)
	m.RegisterCallback(cbScope, cbActionQuery, a.cbStatus)
}

func statusKeyboard() *transport.SendOptions {
	kb := tgui.NewInline().
		Row(
			tgui.Btn("🌊 I just spent everything", tgui.Data(cbScope, cbActionZero, "")),
			tgui.Btn("🔄 Refresh", tgui.Data(cbScope, cbActionQuery, "")),
		)
	return &transport.SendOptions{ParseMode: "HTML", ReplyMarkupAdapter: kb.Markup()}
}

func (a *App) cmdStart(ctx context.Context, env *Env, msg *transport.Message, _ []string) error {
	created, err := env.Tracker.Register(ctx, msg.FromID)
	if err != nil {
		return err
	}

	var b strings.Builder
	if created {
		b.WriteString("Welcome! I track your waveplates and ping you when they are full.\n\n")
	}
	st, err := env.Tracker.Status(ctx, msg.FromID)
	if err != nil {
		return err
	}
	b.WriteString(renderStatus(st))
	b.WriteString("\n\nUse /set &lt;amount&gt; after you spend or gain waveplates.")

	_, err = env.Adapter.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID}, b.String(), statusKeyboard())
	return err
}

func (a *App) cmdSet(ctx context.Context, env *Env, msg *transport.Message, args []string) error {
	chat := transport.ChatTarget{ChatID: msg.ChatID}
	rules := env.Tracker.Rules()

	if len(args) != 1 {
		_, err := env.Adapter.SendText(ctx, chat,
			fmt.Sprintf("Usage: /set <amount>  (0-%d)", rules.Cap), nil)
		return err
	}
	amount, err := strconv.Atoi(args[0])
	if err != nil || !rules.ValidLevel(amount) {
		_, err := env.Adapter.SendText(ctx, chat,
			fmt.Sprintf("Amount must be a number between 0 and %d.", rules.Cap), nil)
		return err
	}

	st, err := env.Tracker.SetLevel(ctx, msg.FromID, amount)
	if err != nil {
		_, _ = env.Adapter.SendText(ctx, chat, "Something went wrong saving that. Please try again.", nil)
		return err
	}

	text := fmt.Sprintf("Updated. Tracking from %s.\n\n%s",
		tgui.B(fmt.Sprintf("%d/%d", st.Level, st.Cap)), renderStatus(st))
	_, err = env.Adapter.SendText(ctx, chat, text, statusKeyboard())
	return err
}

func (a *App) cmdStatus(ctx context.Context, env *Env, msg *transport.Message, _ []string) error {
	st, err := env.Tracker.Status(ctx, msg.FromID)
	if err != nil {
		return err
	}
	_, err = env.Adapter.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID}, renderStatus(st), statusKeyboard())
	return err
}

func (a *App) cmdHelp(ctx context.Context, env *Env, msg *transport.Message, _ []string) error {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range a.cmdm.Commands() {
		fmt.Fprintf(&b, "/%s - %s\n", c.Name, c.Help)
	}
	_, err := env.Adapter.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID}, b.String(), nil)
	return err
}

func (a *App) cbSetZero(ctx context.Context, env *Env, cb *transport.Callback) error {
	st, err := env.Tracker.ResetToZero(ctx, cb.FromID)
	if err != nil {
		_ = env.Adapter.AnswerCallback(ctx, cb.ID, "Saving failed, try again")
		return err
	}
	_ = env.Adapter.AnswerCallback(ctx, cb.ID, "✅ Timer reset!")

	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	return ignoreNotModified(env.Adapter.EditText(ctx, ref, renderStatus(st), statusKeyboard()))
}

func (a *App) cbStatus(ctx context.Context, env *Env, cb *transport.Callback) error {
	st, err := env.Tracker.Status(ctx, cb.FromID)
	if err != nil {
		_ = env.Adapter.AnswerCallback(ctx, cb.ID, "Something went wrong")
		return err
	}
	_ = env.Adapter.AnswerCallback(ctx, cb.ID, "")

	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	return ignoreNotModified(env.Adapter.EditText(ctx, ref, renderStatus(st), statusKeyboard()))
}

// ignoreNotModified swallows the Telegram error for editing a message to its
// current content (a refresh tap within the same regen period).
func ignoreNotModified(err error) error {
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return nil
	}
	return err
}

func renderStatus(st waveplate.Status) string {
	if !st.Registered {
		return "Please run /start first."
	}
	if st.Capped() {
		return fmt.Sprintf("⚡ %s\nGo spend them before you overcap.",
			tgui.B(fmt.Sprintf("Waveplates full: %d/%d!", st.Level, st.Cap)))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🌊 Waveplates: %s\n", tgui.B(fmt.Sprintf("%d/%d", st.Level, st.Cap)))
	fmt.Fprintf(&b, "⏳ Full in: %s\n", tgui.B(fmtDuration(st.TimeToCap)))
	fmt.Fprintf(&b, "📅 Cap time: %s", tgui.B(st.CapAt.Local().Format("15:04")))
	return b.String()
}

// fmtDuration renders a positive duration as "12h 34m" ("34m" under an hour).
func fmtDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
