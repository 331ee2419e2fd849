package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jmoran/plazabot/internal/booking"
	"github.com/jmoran/plazabot/internal/dialog"
	"github.com/jmoran/plazabot/internal/domain/audit"
	"github.com/jmoran/plazabot/internal/domain/slots"
	"github.com/jmoran/plazabot/internal/domain/users"
	"github.com/jmoran/plazabot/internal/lottery"
	"github.com/jmoran/plazabot/internal/report"
)

type Bot struct {
	api       *tgbotapi.BotAPI
	log       *slog.Logger
	users     *users.Repo
	states    *dialog.Repo
	booking   *booking.Service
	engines   map[slots.Pool]*lottery.Engine
	runs      *audit.Repo
	report    *report.Builder
	adminChat int64
	loc       *time.Location
	cutoff    int
}

func New(api *tgbotapi.BotAPI, log *slog.Logger,
	usersRepo *users.Repo, statesRepo *dialog.Repo,
	svc *booking.Service, engines map[slots.Pool]*lottery.Engine,
	runsRepo *audit.Repo, reportBuilder *report.Builder,
	adminChatID int64, loc *time.Location, cutoffHour int) *Bot {

	return &Bot{
		api: api, log: log, users: usersRepo, states: statesRepo,
		booking: svc, engines: engines, runs: runsRepo, report: reportBuilder,
		adminChat: adminChatID, loc: loc, cutoff: cutoffHour,
	}
}

// cutoffLabel renders the configured cutoff for user-facing texts.
func (b *Bot) cutoffLabel() string {
	return fmt.Sprintf("%02d:00", b.cutoff)
}

func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			if upd.Message != nil {
				b.onMessage(ctx, upd)
			} else if upd.CallbackQuery != nil {
				b.onCallback(ctx, upd)
			}
		}
	}
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send failed", "err", err)
	}
}

func (b *Bot) answerCallback(cb *tgbotapi.CallbackQuery, text string) {
	resp := tgbotapi.NewCallback(cb.ID, text)
	if _, err := b.api.Request(resp); err != nil {
		b.log.Error("callback answer failed", "err", err)
	}
}

// identify resolves (and lazily registers) the user behind a message.
func (b *Bot) identify(ctx context.Context, from *tgbotapi.User) (*users.User, error) {
	role := users.RoleSuplente
	if from.ID == b.adminChat {
		role = users.RoleAdmin
	}
	name := from.FirstName
	if from.LastName != "" {
		name += " " + from.LastName
	}
	return b.users.Upsert(ctx, from.ID, name, role)
}

func (b *Bot) isAdmin(u *users.User) bool { return u.Role == users.RoleAdmin }

// today returns the local civil date the policy works with.
func (b *Bot) today() time.Time {
	return lottery.DateOf(time.Now().In(b.loc))
}
