package session

import "fmt"

const (
	msgUnauthorized   = "⛔ Admins only."
	msgCancelled      = "❌ Operation cancelled."
	msgNothingActive  = "Nothing to cancel."
	msgStoreFailed    = "❌ Could not save, please try again later."
	msgAskTime        = "🕒 Class time (24-hour, e.g. 09:30 or 14:00):"
	msgBadTime        = "❌ Invalid time. Use HH:MM (e.g. 09:30 or 14:00)."
	msgAskCourse      = "📘 Course name:"
	msgAskRoom        = "📍 Room:"
	msgAskTeacher     = "👨‍🏫 Teacher name:"
	msgAskTitle       = "📝 Notice title:"
	msgAskBody        = "📄 Notice body:"
	msgEmptyText      = "❌ This can't be empty, please type it again."
	msgNoticeSaved    = "✅ Notice saved."
	msgAskFile        = "📂 Upload a file or photo (PDF/Doc/Photo):"
	msgNeedFile       = "❌ Please send a file or a photo."
	msgResourceSaved  = "✅ Uploaded. Send more, or /cancel to finish."
	msgAskPayload     = "📢 Send the broadcast message or file:"
	msgListFailed     = "❌ Could not load the recipient list."
	msgBroadcastStart = "⏳ Sending to %d recipients..."
	msgBroadcastDone  = "✅ Broadcast finished. (sent: %d/%d)"
	msgRelayBusy      = "⏳ A broadcast is still being sent. Send /cancel to stop it."
	msgRelayAborted   = "❌ Broadcast cancelled before sending."
	msgClassSaved     = "✅ Class added:\n⏰ %s | 📘 %s | 📍 %s | 👨‍🏫 %s"
)

func promptFor(s Step) string {
	switch s {
	case StepAwaitTime:
		return msgAskTime
	case StepAwaitCourse:
		return msgAskCourse
	case StepAwaitRoom:
		return msgAskRoom
	case StepAwaitTeacher:
		return msgAskTeacher
	case StepAwaitTitle:
		return msgAskTitle
	case StepAwaitBody:
		return msgAskBody
	case StepAwaitFile:
		return msgAskFile
	case StepAwaitPayload:
		return msgAskPayload
	default:
		return ""
	}
}

func classSaved(t, course, room, teacher string) string {
	return fmt.Sprintf(msgClassSaved, t, course, room, teacher)
}
