package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jmoran/plazabot/internal/domain/requests"
)

const (
	btnCede    = "Ceder plaza"
	btnRetake  = "Recuperar periodo"
	btnRequest = "Pedir plaza"
	btnEV      = "Pedir cargador"
	btnMine    = "Mis solicitudes"
	btnCancel  = "Anular"

	btnAdmRun    = "Sorteo"
	btnAdmRevert = "Revertir sorteo"
	btnAdmReport = "Informe mensual"
)

func mainReplyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCede),
			tgbotapi.NewKeyboardButton(btnRetake),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnRequest),
			tgbotapi.NewKeyboardButton(btnEV),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnMine),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func adminReplyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := mainReplyKeyboard()
	kb.Keyboard = append(kb.Keyboard, tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton(btnAdmRun),
		tgbotapi.NewKeyboardButton(btnAdmRevert),
		tgbotapi.NewKeyboardButton(btnAdmReport),
	))
	return kb
}

func periodKeyboard(withFullDay bool) tgbotapi.InlineKeyboardMarkup {
	row := tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Mañana", "per:AM"),
		tgbotapi.NewInlineKeyboardButtonData("Tarde", "per:PM"),
	)
	if withFullDay {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Día completo", "per:FULL"))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row, cancelRow())
}

func prefKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Primera mitad", "pref:early"),
			tgbotapi.NewInlineKeyboardButtonData("Segunda mitad", "pref:late"),
			tgbotapi.NewInlineKeyboardButtonData("Cualquiera", "pref:any"),
		),
		cancelRow(),
	)
}

func cancelRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✖️ Cancelar", "nav:cancel"),
	)
}

func cancelListKeyboard(items []requests.Request) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, q := range items {
		label := fmt.Sprintf("%s %s (%s)", q.Date.Format("02/01"), periodLabel(q), q.State)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("cancel:%d", q.ID)),
		))
	}
	rows = append(rows, cancelRow())
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func periodLabel(q requests.Request) string {
	if q.Period != "" {
		return string(q.Period)
	}
	return "cargador"
}
