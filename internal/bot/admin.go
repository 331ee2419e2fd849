package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jmoran/plazabot/internal/dialog"
	"github.com/jmoran/plazabot/internal/domain/slots"
	"github.com/jmoran/plazabot/internal/lottery"
)

func (b *Bot) handleAdminButton(ctx context.Context, chatID int64, text string) {
	switch text {
	case btnAdmRun:
		_ = b.states.Set(ctx, chatID, dialog.StateAdmRunDate, dialog.Payload{})
		b.send(tgbotapi.NewMessage(chatID, "¿Sorteo para qué fecha? (AAAA-MM-DD o «mañana»)"))
	case btnAdmRevert:
		_ = b.states.Set(ctx, chatID, dialog.StateAdmRevertDate, dialog.Payload{})
		b.send(tgbotapi.NewMessage(chatID, "¿Revertir el sorteo de qué fecha? (AAAA-MM-DD)"))
	case btnAdmReport:
		_ = b.states.Set(ctx, chatID, dialog.StateAdmReportYM, dialog.Payload{})
		b.send(tgbotapi.NewMessage(chatID, "¿Informe de qué mes? (AAAA-MM)"))
	}
}

func (b *Bot) handleAdminInput(ctx context.Context, msg *tgbotapi.Message, st *dialog.Item) {
	chatID := msg.Chat.ID
	defer func() { _ = b.states.Reset(ctx, chatID) }()

	switch st.State {
	case dialog.StateAdmRunDate:
		date, err := b.parseDate(msg.Text)
		if err != nil {
			b.send(tgbotapi.NewMessage(chatID, "Fecha no válida."))
			return
		}
		b.adminRun(ctx, chatID, date)

	case dialog.StateAdmRevertDate:
		date, err := b.parseDate(msg.Text)
		if err != nil {
			b.send(tgbotapi.NewMessage(chatID, "Fecha no válida."))
			return
		}
		b.adminRevert(ctx, chatID, date)

	case dialog.StateAdmReportYM:
		month, err := time.Parse("2006-01", strings.TrimSpace(msg.Text))
		if err != nil {
			b.send(tgbotapi.NewMessage(chatID, "Mes no válido. Formato: AAAA-MM."))
			return
		}
		b.adminReport(ctx, chatID, month)
	}
}

func (b *Bot) adminRun(ctx context.Context, chatID int64, date time.Time) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sorteo del %s:\n", date.Format("02/01/2006"))

	if prior, err := b.runs.ListByDate(ctx, date); err == nil && len(prior) > 0 {
		last := prior[len(prior)-1]
		fmt.Fprintf(&sb, "Ojo: esta fecha ya tiene %d ejecución(es), la última a las %s.\n",
			len(prior), last.ExecutedAt.In(b.loc).Format("15:04"))
	}

	for _, pool := range []slots.Pool{slots.PoolParking, slots.PoolEV} {
		res, err := b.engines[pool].Run(ctx, date)
		if err != nil {
			var runErr *lottery.RunError
			if errors.As(err, &runErr) {
				fmt.Fprintf(&sb, "• %s: interrumpido, %d solicitudes siguen pendientes — reintenta\n", pool, len(runErr.Pending))
			} else {
				fmt.Fprintf(&sb, "• %s: error: %v\n", pool, err)
			}
			continue
		}
		if err := b.runs.Record(ctx, pool, date, time.Now().In(b.loc)); err != nil {
			b.log.Error("audit record failed", "pool", pool, "err", err)
		}
		total := 0
		for _, n := range res.Assigned {
			total += n
		}
		fmt.Fprintf(&sb, "• %s: %d asignadas, %d sin plaza\n", pool, total, res.Rejected)
	}
	b.send(tgbotapi.NewMessage(chatID, sb.String()))
}

func (b *Bot) adminRevert(ctx context.Context, chatID int64, date time.Time) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reversión del %s:\n", date.Format("02/01/2006"))

	for _, pool := range []slots.Pool{slots.PoolParking, slots.PoolEV} {
		n, err := b.engines[pool].Reverse(ctx, date)
		if err != nil {
			var partial *lottery.PartialReversalError
			if errors.As(err, &partial) {
				fmt.Fprintf(&sb, "• %s: %d revertidas, PERO %d no se pudieron revertir: %v\n", pool, n, len(partial.RequestIDs), partial.RequestIDs)
			} else {
				fmt.Fprintf(&sb, "• %s: error: %v\n", pool, err)
			}
			continue
		}
		fmt.Fprintf(&sb, "• %s: %d solicitudes de vuelta a pendiente\n", pool, n)
	}
	b.send(tgbotapi.NewMessage(chatID, sb.String()))
}

func (b *Bot) adminReport(ctx context.Context, chatID int64, month time.Time) {
	data, name, err := b.report.Monthly(ctx, month)
	if err != nil {
		b.log.Error("report build failed", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "No se pudo generar el informe."))
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	b.send(doc)
}
