// Package bot is the Telegram front end: the operator command surface and
// the notifier the monitor sends through. Exactly one chat id is served.
package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sanurivanta-afk/tokomon/internal/itemku"
	"github.com/sanurivanta-afk/tokomon/internal/monitor"
)

type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
	pin    string
	mon    *monitor.Monitor
	stop   chan struct{}
}

func New(token string, chatID int64, pin string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Bot{api: api, chatID: chatID, pin: pin, stop: make(chan struct{})}, nil
}

// Attach wires the monitor in after construction; the monitor needs the bot
// as its notifier, so the two cannot be built in one step.
func (b *Bot) Attach(m *monitor.Monitor) { b.mon = m }

// Send implements monitor.Notifier. Failures are logged and dropped; a broken
// chat must never stall the monitor.
func (b *Bot) Send(text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(b.chatID, text)); err != nil {
		log.Printf("bot: send: %v", err)
	}
}

// Run consumes updates until Close is called. Blocking.
func (b *Bot) Run() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)
	log.Printf("bot: serving chat %d as @%s", b.chatID, b.api.Self.UserName)
	for {
		select {
		case <-b.stop:
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			b.handle(upd)
		}
	}
}

func (b *Bot) Close() {
	b.api.StopReceivingUpdates()
	close(b.stop)
}

func (b *Bot) handle(upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || !msg.IsCommand() {
		return
	}
	// Anything outside the operator chat is ignored without a reply.
	if msg.Chat == nil || msg.Chat.ID != b.chatID {
		return
	}
	if reply := b.handleCommand(msg.Command(), msg.CommandArguments()); reply != "" {
		b.Send(reply)
	}
}

// handleCommand maps one command to its reply text. Split from handle so
// tests can drive it without a live Bot API.
func (b *Bot) handleCommand(cmd, args string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	switch cmd {
	case "start_monitor":
		if err := b.mon.Start(); err != nil {
			return "Monitor sudah ON."
		}
		return "Monitor ON."
	case "stop_monitor":
		b.mon.Stop()
		return "Monitor OFF."
	case "status":
		snap, err := b.mon.Snapshot(ctx)
		if err != nil {
			return "Status tidak terbaca: " + err.Error()
		}
		return formatStatus(snap.Running, snap.LastCheck, string(snap.LastStatus), snap.LastHTTP)
	case "setcookie":
		return b.handleSetCookie(ctx, args)
	}
	return ""
}

func (b *Bot) handleSetCookie(ctx context.Context, args string) string {
	parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return "Format: /setcookie PIN COOKIE"
	}
	if parts[0] != b.pin {
		return "PIN salah."
	}
	code, err := b.mon.SetCredential(ctx, parts[1])
	if err != nil {
		return "Cookie gagal disimpan: " + err.Error()
	}
	switch {
	case code == 200:
		return "Cookie updated. Validasi OK (HTTP 200)."
	case code == 401 || code == 403:
		return fmt.Sprintf("Cookie updated, tapi validasi gagal (HTTP %d). Cookie mungkin salah.", code)
	case code == itemku.CodeTransport:
		return "Cookie updated, validasi gagal (network error)."
	default:
		return fmt.Sprintf("Cookie updated, validasi HTTP %d.", code)
	}
}

func formatStatus(running bool, lastCheck, lastStatus string, lastHTTP int) string {
	run := "OFF"
	if running {
		run = "ON"
	}
	if lastCheck == "" {
		lastCheck = "-"
	}
	if lastStatus == "" {
		lastStatus = "UNKNOWN"
	}
	httpStr := "-"
	if lastHTTP != 0 {
		httpStr = fmt.Sprintf("%d", lastHTTP)
	}
	return fmt.Sprintf("Run: %s\nLast: %s\nStatus: %s\nHTTP: %s", run, lastCheck, lastStatus, httpStr)
}
