package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rsi-grid-bot/internal/alerts"
	"rsi-grid-bot/internal/state"
	"rsi-grid-bot/internal/strategy"

	"go.uber.org/zap"
)

const (
	operatorOffsetKey   = "telegram:operator:last_update_id"
	operatorAuditPrefix = "ops:audit:"
)

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
}

type operatorCommand struct {
	name string
	help string
	run  func(a *App, ctx context.Context, meta operatorMeta) string
}

var operatorCommands = []operatorCommand{
	{name: "status", help: "current bot status", run: (*App).operatorStatus},
	{name: "pause", help: "stop running cycles", run: func(a *App, ctx context.Context, meta operatorMeta) string {
		return a.operatorTogglePause(ctx, "pause", true, meta)
	}},
	{name: "resume", help: "resume cycles", run: func(a *App, ctx context.Context, meta operatorMeta) string {
		return a.operatorTogglePause(ctx, "resume", false, meta)
	}},
}

// operatorChat is the chat and user allowlist operator commands are accepted from.
type operatorChat struct {
	chatID  int64
	allowed map[int64]struct{}
}

func (c operatorChat) accepts(msg *alerts.Message) bool {
	if msg == nil || msg.Chat == nil || msg.From == nil || msg.Chat.ID != c.chatID {
		return false
	}
	if len(c.allowed) == 0 {
		return true
	}
	_, ok := c.allowed[msg.From.ID]
	return ok
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.updates == nil || !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	chat := operatorChat{chatID: chatID, allowed: make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUsers))}
	for _, id := range a.cfg.Telegram.OperatorAllowedUsers {
		chat.allowed[id] = struct{}{}
	}
	poll := a.cfg.Telegram.OperatorPollInterval
	if poll <= 0 {
		poll = 3 * time.Second
	}
	go a.operatorLoop(ctx, chat, poll)
	a.log.Info("telegram operator listening", zap.Int64("chat_id", chatID), zap.Int("allowed_users", len(chat.allowed)))
}

func (a *App) operatorLoop(ctx context.Context, chat operatorChat, poll time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for ctx.Err() == nil {
		updates, err := a.updates.GetUpdates(ctx, offset, poll)
		if err != nil {
			a.logOperatorError(err)
			if a.sleep(ctx, poll) != nil {
				return
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chat)
		}
	}
}

// handleOperatorUpdate answers one chat message. Messages from other chats,
// unlisted users or without a leading slash are dropped silently.
func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chat operatorChat) {
	msg := upd.Message
	if !chat.accepts(msg) {
		return
	}
	name, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	a.log.Info("operator command", zap.String("command", name), zap.Strings("args", args), zap.Int64("user_id", msg.From.ID))
	resp := a.handleOperatorCommand(ctx, name, operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	})
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.ToLower(fields[0][1:])
	// group chats address commands as /status@botname
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return name, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, name string, meta operatorMeta) string {
	for _, cmd := range operatorCommands {
		if cmd.name == name {
			return cmd.run(a, ctx, meta)
		}
	}
	return operatorHelpText()
}

func (a *App) operatorTogglePause(ctx context.Context, action string, pause bool, meta operatorMeta) string {
	a.opsMu.Lock()
	before := a.paused
	a.paused = pause
	a.opsMu.Unlock()
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         a.clock().UTC(),
		Action:       action,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		PausedBefore: before,
		PausedAfter:  pause,
	})
	if before == pause {
		if pause {
			return "trading already paused"
		}
		return "trading already active"
	}
	if pause {
		return "trading paused"
	}
	return "trading resumed"
}

func (a *App) operatorStatus(ctx context.Context, _ operatorMeta) string {
	if a.cfg == nil || a.botState == nil {
		return "status unavailable"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "asset: %s\n", a.cfg.Bot.Asset)
	fmt.Fprintf(&b, "paused: %t\n", a.isPaused())
	fmt.Fprintf(&b, "thresholds: entry %.2f exit %.2f window %d\n", a.cfg.Bot.Entry, a.cfg.Bot.Exit, a.cfg.Bot.Window)
	if st, err := a.botState.Load(ctx); err != nil {
		fmt.Fprintf(&b, "state: unavailable (%v)\n", err)
	} else {
		fmt.Fprintf(&b, "state: %s (version %d)\n", strategy.StateFromBuying(st.IsBuying), st.Version)
		if st.HasLastRSI {
			fmt.Fprintf(&b, "last_rsi: %.2f\n", st.LastRSI)
		} else {
			b.WriteString("last_rsi: n/a\n")
		}
	}
	fmt.Fprintf(&b, "consecutive_failures: %d\n", a.failures)
	snap, ok, err := state.LoadCycleSnapshot(ctx, a.store)
	switch {
	case err != nil:
		fmt.Fprintf(&b, "last_cycle: unavailable (%v)", err)
	case !ok:
		b.WriteString("last_cycle: none")
	default:
		at := time.UnixMilli(snap.UpdatedAtMS).UTC().Format(time.RFC3339)
		fmt.Fprintf(&b, "last_cycle: %s %s price %.4f rsi %.2f", at, snap.Action, snap.Price, snap.RSI)
		if snap.Error != "" {
			b.WriteString(" error: " + snap.Error)
		}
	}
	return b.String()
}

func operatorHelpText() string {
	lines := []string{"commands:"}
	for _, cmd := range operatorCommands {
		lines = append(lines, fmt.Sprintf("/%s - %s", cmd.name, cmd.help))
	}
	return strings.Join(lines, "\n")
}

func (a *App) clock() time.Time {
	if a.now == nil {
		return time.Now()
	}
	return a.now()
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) {
	a.opsMu.Lock()
	a.paused = paused
	a.opsMu.Unlock()
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	if err := a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10)); err != nil && a.log != nil {
		a.log.Warn("operator offset save failed", zap.Error(err))
	}
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s%d:%d", operatorAuditPrefix, event.Time.UnixNano(), event.UpdateID)
	_ = a.store.Set(ctx, key, string(payload))
}
