package tgui

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

const ParseModeHTML = "HTML"

// ReplyKeyboard builds a persistent, resized reply keyboard from label rows.
// Empty labels and empty rows are skipped.
func ReplyKeyboard(rows [][]string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	out := make([]tele.Row, 0, len(rows))
	for _, labels := range rows {
		btns := make([]tele.Btn, 0, len(labels))
		for _, l := range labels {
			if strings.TrimSpace(l) == "" {
				continue
			}
			btns = append(btns, rm.Text(l))
		}
		if len(btns) == 0 {
			continue
		}
		out = append(out, rm.Row(btns...))
	}
	rm.Reply(out...)
	return rm
}
