package bot

import (
	"strings"

	"classbot/internal/session"
)

// Reply keyboard labels. They double as the menu commands users tap.
const (
	LabelRoutine   = "📅 Full Routine"
	LabelToday     = "🗓 Today Classes"
	LabelNotices   = "📢 Notices"
	LabelTeachers  = "👨‍🏫 Teachers"
	LabelResources = "📂 View Resources"

	LabelAddClass    = "⚙ Add Today Class"
	LabelAddNotice   = "⚙ Add Notice"
	LabelAddResource = "⚙ Add Resources"
	LabelBroadcast   = "⚙ Broadcast"

	// adminMark prefixes every admin label.
	adminMark = "⚙"
)

// Command is an inbound text resolved once, before any routing decision.
type Command int

const (
	CmdNone Command = iota
	CmdStart
	CmdHelp
	CmdCancel
	CmdStatus

	CmdRoutine
	CmdToday
	CmdNotices
	CmdTeachers
	CmdResources

	CmdAddClass
	CmdAddNotice
	CmdAddResource
	CmdBroadcast

	// CmdAdminUnknown is any other text carrying the admin mark.
	CmdAdminUnknown
)

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdHelp:
		return "help"
	case CmdCancel:
		return "cancel"
	case CmdStatus:
		return "status"
	case CmdRoutine:
		return "view.routine"
	case CmdToday:
		return "view.today"
	case CmdNotices:
		return "view.notices"
	case CmdTeachers:
		return "view.teachers"
	case CmdResources:
		return "view.resources"
	case CmdAddClass:
		return "flow.class"
	case CmdAddNotice:
		return "flow.notice"
	case CmdAddResource:
		return "flow.resource"
	case CmdBroadcast:
		return "flow.broadcast"
	case CmdAdminUnknown:
		return "admin.unknown"
	default:
		return "none"
	}
}

var labelCommands = map[string]Command{
	LabelRoutine:     CmdRoutine,
	LabelToday:       CmdToday,
	LabelNotices:     CmdNotices,
	LabelTeachers:    CmdTeachers,
	LabelResources:   CmdResources,
	LabelAddClass:    CmdAddClass,
	LabelAddNotice:   CmdAddNotice,
	LabelAddResource: CmdAddResource,
	LabelBroadcast:   CmdBroadcast,
}

var slashCommands = map[string]Command{
	"start":  CmdStart,
	"help":   CmdHelp,
	"cancel": CmdCancel,
	"status": CmdStatus,
}

// Resolve maps message text to a Command. "/cmd@botname" and surrounding
// whitespace are accepted. Anything else yields CmdNone.
func Resolve(text string) Command {
	text = strings.TrimSpace(text)
	if text == "" {
		return CmdNone
	}
	if strings.HasPrefix(text, "/") {
		word := strings.TrimPrefix(strings.Fields(text)[0], "/")
		if i := strings.IndexByte(word, '@'); i >= 0 {
			word = word[:i]
		}
		if c, ok := slashCommands[strings.ToLower(word)]; ok {
			return c
		}
		return CmdNone
	}
	if c, ok := labelCommands[text]; ok {
		return c
	}
	if strings.Contains(text, adminMark) {
		return CmdAdminUnknown
	}
	return CmdNone
}

// Flow returns the form a command starts, or FlowNone.
func (c Command) Flow() session.Flow {
	switch c {
	case CmdAddClass:
		return session.FlowClass
	case CmdAddNotice:
		return session.FlowNotice
	case CmdAddResource:
		return session.FlowResource
	case CmdBroadcast:
		return session.FlowBroadcast
	default:
		return session.FlowNone
	}
}

// isView reports whether c shows a read-only screen.
func (c Command) isView() bool {
	switch c {
	case CmdRoutine, CmdToday, CmdNotices, CmdTeachers, CmdResources:
		return true
	}
	return false
}

// menuRows is the reply keyboard. Admins get two extra rows.
func menuRows(admin bool) [][]string {
	rows := [][]string{
		{LabelRoutine, LabelToday},
		{LabelNotices, LabelTeachers},
		{LabelResources},
	}
	if admin {
		rows = append(rows,
			[]string{LabelAddClass, LabelAddNotice},
			[]string{LabelAddResource, LabelBroadcast},
		)
	}
	return rows
}
