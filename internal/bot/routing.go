package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jmoran/plazabot/internal/booking"
	"github.com/jmoran/plazabot/internal/dialog"
	"github.com/jmoran/plazabot/internal/domain/requests"
	"github.com/jmoran/plazabot/internal/domain/slots"
	"github.com/jmoran/plazabot/internal/domain/users"
	"github.com/jmoran/plazabot/internal/lottery"
	"github.com/jmoran/plazabot/internal/policy"
)

func (b *Bot) onMessage(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	chatID := msg.Chat.ID

	user, err := b.identify(ctx, msg.From)
	if err != nil {
		b.log.Error("identify failed", "err", err)
		b.send(tgbotapi.NewMessage(chatID, "Error interno, inténtalo de nuevo."))
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, user)
		return
	}

	st, _ := b.states.Get(ctx, chatID)
	if st.State != dialog.StateIdle {
		b.handleStateInput(ctx, msg, user, st)
		return
	}
	b.handleMenuButton(ctx, msg, user)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *users.User) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		_ = b.states.Reset(ctx, chatID)
		m := tgbotapi.NewMessage(chatID, "Hola, "+user.Name+". Usa los botones para ceder tu plaza o pedir una.")
		if b.isAdmin(user) {
			m.ReplyMarkup = adminReplyKeyboard()
		} else {
			m.ReplyMarkup = mainReplyKeyboard()
		}
		b.send(m)
	case "cancelar":
		_ = b.states.Reset(ctx, chatID)
		b.send(tgbotapi.NewMessage(chatID, "Operación cancelada."))
	default:
		b.send(tgbotapi.NewMessage(chatID, "Comando desconocido."))
	}
}

func (b *Bot) handleMenuButton(ctx context.Context, msg *tgbotapi.Message, user *users.User) {
	chatID := msg.Chat.ID
	switch msg.Text {
	case btnCede:
		b.askDate(ctx, chatID, dialog.StateCedeDate)
	case btnRetake:
		b.askDate(ctx, chatID, dialog.StateRetakeDate)
	case btnRequest:
		b.askDate(ctx, chatID, dialog.StateReqDate)
	case btnEV:
		b.askDate(ctx, chatID, dialog.StateEVDate)
	case btnMine:
		b.showMine(ctx, chatID, user)
	case btnCancel:
		b.askCancelPick(ctx, chatID, user)
	case btnAdmRun, btnAdmRevert, btnAdmReport:
		if !b.isAdmin(user) {
			b.send(tgbotapi.NewMessage(chatID, "Solo para administradores."))
			return
		}
		b.handleAdminButton(ctx, chatID, msg.Text)
	default:
		b.send(tgbotapi.NewMessage(chatID, "No te he entendido. Usa los botones del menú."))
	}
}

func (b *Bot) askDate(ctx context.Context, chatID int64, next dialog.State) {
	_ = b.states.Set(ctx, chatID, next, dialog.Payload{})
	b.send(tgbotapi.NewMessage(chatID, "¿Para qué fecha? (AAAA-MM-DD, o escribe «mañana»)"))
}

// parseDate accepts AAAA-MM-DD or the shortcuts hoy / mañana.
func (b *Bot) parseDate(text string) (time.Time, error) {
	text = strings.TrimSpace(strings.ToLower(text))
	today := b.today()
	switch text {
	case "hoy":
		return today, nil
	case "mañana", "manana":
		return today.AddDate(0, 0, 1), nil
	}
	d, err := time.Parse("2006-01-02", text)
	if err != nil {
		return time.Time{}, err
	}
	return d, nil
}

func (b *Bot) handleStateInput(ctx context.Context, msg *tgbotapi.Message, user *users.User, st *dialog.Item) {
	chatID := msg.Chat.ID

	switch st.State {
	case dialog.StateCedeDate, dialog.StateRetakeDate, dialog.StateReqDate, dialog.StateEVDate:
		date, err := b.parseDate(msg.Text)
		if err != nil {
			b.send(tgbotapi.NewMessage(chatID, "Fecha no válida. Formato: AAAA-MM-DD."))
			return
		}
		payload := dialog.Payload{"date": date.Format("2006-01-02")}
		switch st.State {
		case dialog.StateCedeDate:
			b.askPeriod(ctx, chatID, dialog.StateCedePeriod, payload, true)
		case dialog.StateRetakeDate:
			b.askPeriod(ctx, chatID, dialog.StateRetakePeriod, payload, false)
		case dialog.StateReqDate:
			b.askPeriod(ctx, chatID, dialog.StateReqPeriod, payload, true)
		case dialog.StateEVDate:
			_ = b.states.Set(ctx, chatID, dialog.StateEVPref, payload)
			m := tgbotapi.NewMessage(chatID, "¿Qué franja del cargador prefieres?")
			m.ReplyMarkup = prefKeyboard()
			b.send(m)
		}

	case dialog.StateAdmRunDate, dialog.StateAdmRevertDate, dialog.StateAdmReportYM:
		b.handleAdminInput(ctx, msg, st)

	default:
		_ = b.states.Reset(ctx, chatID)
		b.send(tgbotapi.NewMessage(chatID, "Empecemos de nuevo: usa los botones del menú."))
	}
}

func (b *Bot) askPeriod(ctx context.Context, chatID int64, next dialog.State, payload dialog.Payload, withFull bool) {
	_ = b.states.Set(ctx, chatID, next, payload)
	m := tgbotapi.NewMessage(chatID, "¿Qué periodo?")
	m.ReplyMarkup = periodKeyboard(withFull)
	b.send(m)
}

func (b *Bot) onCallback(ctx context.Context, upd tgbotapi.Update) {
	cb := upd.CallbackQuery
	chatID := cb.Message.Chat.ID

	user, err := b.identify(ctx, cb.From)
	if err != nil {
		b.answerCallback(cb, "Error interno")
		return
	}

	data := cb.Data
	switch {
	case data == "nav:cancel":
		_ = b.states.Reset(ctx, chatID)
		b.answerCallback(cb, "")
		b.send(tgbotapi.NewMessage(chatID, "Operación cancelada."))

	case strings.HasPrefix(data, "per:"):
		b.answerCallback(cb, "")
		b.onPeriodChosen(ctx, chatID, user, strings.TrimPrefix(data, "per:"))

	case strings.HasPrefix(data, "pref:"):
		b.answerCallback(cb, "")
		b.onPrefChosen(ctx, chatID, user, requests.Preference(strings.TrimPrefix(data, "pref:")))

	case strings.HasPrefix(data, "cancel:"):
		b.answerCallback(cb, "")
		id, err := strconv.ParseInt(strings.TrimPrefix(data, "cancel:"), 10, 64)
		if err != nil {
			return
		}
		b.onCancelChosen(ctx, chatID, user, id)

	default:
		b.answerCallback(cb, "")
	}
}

func (b *Bot) onPeriodChosen(ctx context.Context, chatID int64, user *users.User, period string) {
	st, _ := b.states.Get(ctx, chatID)
	raw, _ := dialog.GetString(st.Payload, "date")
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		_ = b.states.Reset(ctx, chatID)
		b.send(tgbotapi.NewMessage(chatID, "Se perdió la fecha, empieza de nuevo."))
		return
	}
	defer func() { _ = b.states.Reset(ctx, chatID) }()

	periods := []slots.Period{slots.Period(period)}
	if period == "FULL" {
		periods = []slots.Period{slots.PeriodAM, slots.PeriodPM}
	}

	switch st.State {
	case dialog.StateCedePeriod:
		for _, p := range periods {
			if err := b.booking.Cede(ctx, user.ID, date, p); err != nil {
				b.send(tgbotapi.NewMessage(chatID, b.explain(err)))
				return
			}
		}
		b.send(tgbotapi.NewMessage(chatID, "Plaza cedida para el "+date.Format("02/01/2006")+". Gracias."))

	case dialog.StateRetakePeriod:
		if err := b.booking.Retake(ctx, user.ID, date, periods[0]); err != nil {
			b.send(tgbotapi.NewMessage(chatID, b.explain(err)))
			return
		}
		b.send(tgbotapi.NewMessage(chatID, "Periodo recuperado."))

	case dialog.StateReqPeriod:
		if period == "FULL" {
			if _, _, err := b.booking.RequestFullDay(ctx, user.ID, date); err != nil {
				b.send(tgbotapi.NewMessage(chatID, b.explain(err)))
				return
			}
			b.send(tgbotapi.NewMessage(chatID, "Solicitud de día completo registrada. El sorteo decide a las "+b.cutoffLabel()+"."))
			return
		}
		req, err := b.booking.RequestPeriod(ctx, user.ID, date, periods[0])
		if err != nil {
			b.send(tgbotapi.NewMessage(chatID, b.explain(err)))
			return
		}
		if req.State == requests.StateAssigned {
			b.send(tgbotapi.NewMessage(chatID, "¡Plaza asignada para hoy!"))
		} else {
			b.send(tgbotapi.NewMessage(chatID, "Solicitud registrada. El sorteo decide a las "+b.cutoffLabel()+"."))
		}

	default:
		b.send(tgbotapi.NewMessage(chatID, "Empecemos de nuevo: usa los botones del menú."))
	}
}

func (b *Bot) onPrefChosen(ctx context.Context, chatID int64, user *users.User, pref requests.Preference) {
	st, _ := b.states.Get(ctx, chatID)
	raw, _ := dialog.GetString(st.Payload, "date")
	date, err := time.Parse("2006-01-02", raw)
	_ = b.states.Reset(ctx, chatID)
	if err != nil || st.State != dialog.StateEVPref {
		b.send(tgbotapi.NewMessage(chatID, "Se perdió la fecha, empieza de nuevo."))
		return
	}
	req, err := b.booking.RequestEV(ctx, user.ID, date, pref)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, b.explain(err)))
		return
	}
	if req.State == requests.StateAssigned {
		b.send(tgbotapi.NewMessage(chatID, "Cargador asignado para hoy, ventana "+string(req.Period)+"."))
	} else {
		b.send(tgbotapi.NewMessage(chatID, "Solicitud de cargador registrada."))
	}
}

func (b *Bot) showMine(ctx context.Context, chatID int64, user *users.User) {
	items, err := b.booking.Mine(ctx, user.ID)
	if err != nil {
		b.send(tgbotapi.NewMessage(chatID, "Error al consultar tus solicitudes."))
		return
	}
	if len(items) == 0 {
		b.send(tgbotapi.NewMessage(chatID, "No tienes solicitudes activas."))
		return
	}
	var sb strings.Builder
	sb.WriteString("Tus solicitudes:\n")
	for _, q := range items {
		fmt.Fprintf(&sb, "• %s %s — %s\n", q.Date.Format("02/01/2006"), periodLabel(q), stateLabel(q.State))
	}
	b.send(tgbotapi.NewMessage(chatID, sb.String()))
}

func (b *Bot) askCancelPick(ctx context.Context, chatID int64, user *users.User) {
	items, err := b.booking.Mine(ctx, user.ID)
	if err != nil || len(items) == 0 {
		b.send(tgbotapi.NewMessage(chatID, "No tienes nada que anular."))
		return
	}
	_ = b.states.Set(ctx, chatID, dialog.StateCancelPick, dialog.Payload{})
	m := tgbotapi.NewMessage(chatID, "¿Qué solicitud quieres anular?")
	m.ReplyMarkup = cancelListKeyboard(items)
	b.send(m)
}

func (b *Bot) onCancelChosen(ctx context.Context, chatID int64, user *users.User, id int64) {
	_ = b.states.Reset(ctx, chatID)
	if err := b.booking.Cancel(ctx, user.ID, id); err != nil {
		b.send(tgbotapi.NewMessage(chatID, b.explain(err)))
		return
	}
	b.send(tgbotapi.NewMessage(chatID, "Solicitud anulada."))
}

// explain maps the expected error kinds to user-facing Spanish.
func (b *Bot) explain(err error) string {
	switch {
	case errors.Is(err, policy.ErrEditWindowClosed):
		return "Fuera de plazo: los cambios para mañana se cierran a las " + b.cutoffLabel() + ", y lo de hoy no se puede anular."
	case errors.Is(err, lottery.ErrNoCapacity):
		return "No queda ninguna plaza libre para ese periodo."
	case errors.Is(err, lottery.ErrAlreadyAssigned):
		return "Alguien se ha adelantado con esa plaza. Vuelve a intentarlo."
	case errors.Is(err, booking.ErrNotTitular):
		return "No tienes plaza asignada en propiedad."
	case errors.Is(err, booking.ErrSlotHeld):
		return "No puedes recuperar el periodo: ya está reservado por un compañero."
	case errors.Is(err, booking.ErrPackSameDay):
		return "El día completo solo se puede pedir para fechas futuras."
	case errors.Is(err, booking.ErrNotFound):
		return "No encuentro esa solicitud."
	default:
		b.log.Error("operation failed", "err", err)
		return "Error interno, inténtalo de nuevo."
	}
}

func stateLabel(s requests.State) string {
	switch s {
	case requests.StatePending:
		return "pendiente de sorteo"
	case requests.StateAssigned:
		return "asignada"
	case requests.StateRejected:
		return "sin plaza"
	case requests.StateCancelled:
		return "anulada"
	}
	return string(s)
}
