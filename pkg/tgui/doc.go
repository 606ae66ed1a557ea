// Package tgui provides small Telegram UI helpers:
//   - HTML escaping and formatting for ParseMode="HTML"
//   - Reply keyboard builders for the main menu
//   - Rune-safe truncation for captions
package tgui
