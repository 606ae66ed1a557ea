package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"classbot/internal/config"
	"classbot/internal/model"
	"classbot/internal/scheduler"
	kit "classbot/internal/transport"
	"classbot/pkg/logx"
	"classbot/pkg/tgui"
)

const (
	msgWelcome        = "Welcome %s! 👋\nThe university helper menu is below:"
	msgAdminPanel     = "🔰 ADMIN PANEL"
	msgHint           = "❗ Pick an option from the menu or send /start."
	msgUnknownCommand = "❗ Unknown command. Send /cancel to stop the current form."
	msgUnauthorized   = "⛔ Admins only."
	msgBusy           = "⏳ Busy, please try again."
	msgNoClasses      = "✅ No classes scheduled today."
	msgClassesFailed  = "❌ Could not load today's classes."
	msgNoNotices      = "📭 No notices."
	msgNoticeFailed   = "❌ Could not load notices."
	msgNoResources    = "📂 No resource files."
	msgResFailed      = "❌ Could not load resources."
	msgNoRoutine      = "📅 No routine published yet."
	msgNoTeachers     = "👨‍🏫 No teachers listed yet."

	separator = "--------------------"
)

var msgHelp = tgui.Lines(
	tgui.B("Commands"),
	tgui.Concat(tgui.Code("/start"), tgui.Esc(" show the menu")),
	tgui.Concat(tgui.Code("/cancel"), tgui.Esc(" abort the current form")),
	tgui.Concat(tgui.Code("/help"), tgui.Esc(" this message")),
	"",
	tgui.Esc("Use the keyboard buttons for routine, classes, notices, teachers and resources."),
)

func welcomeText(name string, admin bool) tgui.H {
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	h := tgui.Esc(fmt.Sprintf(msgWelcome, name))
	if admin {
		h = tgui.Lines(h, "", tgui.B(msgAdminPanel))
	}
	return h
}

// displayTime renders "HH:MM" in 12-hour form; unparsable values pass through.
func displayTime(hhmm string) string {
	t, err := time.Parse(model.TimeLayout, hhmm)
	if err != nil {
		return hhmm
	}
	return t.Format("03:04 PM")
}

func todayText(events []model.ClassEvent) tgui.H {
	parts := []tgui.H{tgui.B("🗓 Today's classes:"), ""}
	for _, e := range events {
		parts = append(parts,
			tgui.Concat("⏰ ", tgui.Code(displayTime(e.Time))),
			tgui.Concat("📘 ", tgui.B(e.Course)),
			tgui.Esc("📍 Room: "+e.Room),
			tgui.Esc("👨‍🏫 "+e.Teacher),
			separator,
		)
	}
	return tgui.Lines(parts...)
}

func routineText(days []config.RoutineDay) tgui.H {
	parts := []tgui.H{tgui.B("📅 Weekly routine")}
	for _, d := range days {
		parts = append(parts, "", tgui.B(d.Day+":"))
		for _, c := range d.Classes {
			line := fmt.Sprintf("• %s (%s)", c.Course, c.Time)
			if c.Room != "" {
				line += " | Room: " + c.Room
			}
			parts = append(parts, tgui.Esc(line))
		}
	}
	return tgui.Lines(parts...)
}

func teachersText(ts []config.Teacher) tgui.H {
	parts := []tgui.H{tgui.B("👨‍🏫 Teachers")}
	for _, t := range ts {
		head := tgui.B(t.Name)
		if t.Subject != "" {
			head = tgui.Concat(head, tgui.Esc(" ("+t.Subject+")"))
		}
		parts = append(parts, "", head)
		if t.Phone != "" {
			parts = append(parts, tgui.Esc("📞 "+t.Phone))
		}
		if t.Email != "" {
			parts = append(parts, tgui.Esc("✉ "+t.Email))
		}
	}
	return tgui.Lines(parts...)
}

func noticesText(ns []model.Notice) tgui.H {
	parts := []tgui.H{tgui.B("📢 Notice board:")}
	for _, n := range ns {
		parts = append(parts, "", tgui.Concat("📌 ", tgui.B(n.Title)), tgui.Esc(n.Body))
	}
	return tgui.Lines(parts...)
}

// resourceCaption appends the upload day, e.g. "📅 02 Jan".
func resourceCaption(r model.Resource, loc *time.Location) string {
	caption := r.Caption
	if strings.TrimSpace(caption) == "" {
		caption = model.DefaultResourceCaption
	}
	if !r.CreatedAt.IsZero() {
		caption += "\n📅 " + r.CreatedAt.In(loc).Format("02 Jan")
	}
	return caption
}

func statusText(snap scheduler.Snapshot, recipients int, now time.Time) tgui.H {
	parts := []tgui.H{
		tgui.B("📊 Status"),
		tgui.Esc(fmt.Sprintf("Recipients: %d", recipients)),
		tgui.Esc(fmt.Sprintf("Timezone: %s", snap.Timezone)),
		tgui.Esc(fmt.Sprintf("Scheduler running: %t (skipped: %d)", snap.Running, snap.Skipped)),
	}
	for _, s := range snap.Schedules {
		line := fmt.Sprintf("• %s", s.Name)
		if !s.Next.IsZero() {
			line += fmt.Sprintf(" next in %s", s.Next.Sub(now).Round(time.Second))
		}
		parts = append(parts, tgui.Esc(line))
	}
	if n := len(snap.History); n > 0 {
		last := snap.History[n-1]
		line := fmt.Sprintf("Last run: %s (%s)", last.Name, last.Duration.Round(time.Millisecond))
		if last.Error != "" {
			line += " error: " + last.Error
		}
		parts = append(parts, tgui.Esc(line))
	}
	return tgui.Lines(parts...)
}

func (r *Router) sendHTML(ctx context.Context, req *Request, h tgui.H, keyboard [][]string) error {
	_, err := r.out.SendText(ctx, req.chat(), h.String(), &kit.SendOptions{
		ParseMode:      tgui.ParseModeHTML,
		DisablePreview: true,
		Keyboard:       keyboard,
	})
	return err
}

func (r *Router) sendPlain(ctx context.Context, req *Request, text string, keyboard [][]string) error {
	return r.sendTo(ctx, req.chat(), text, keyboard)
}

func (r *Router) sendTo(ctx context.Context, to kit.ChatTarget, text string, keyboard [][]string) error {
	var opt *kit.SendOptions
	if len(keyboard) > 0 {
		opt = &kit.SendOptions{Keyboard: keyboard}
	}
	_, err := r.out.SendText(ctx, to, text, opt)
	return err
}

func (r *Router) showView(ctx context.Context, req *Request) error {
	switch req.Command {
	case CmdToday:
		events, err := r.store.ListEvents(ctx)
		if err != nil {
			req.Logger.Error("list events failed", logx.Err(err))
			return r.sendPlain(ctx, req, msgClassesFailed, nil)
		}
		if len(events) == 0 {
			return r.sendPlain(ctx, req, msgNoClasses, nil)
		}
		return r.sendHTML(ctx, req, todayText(events), nil)

	case CmdRoutine:
		if len(r.dir.Routine) == 0 {
			return r.sendPlain(ctx, req, msgNoRoutine, nil)
		}
		return r.sendHTML(ctx, req, routineText(r.dir.Routine), nil)

	case CmdTeachers:
		if len(r.dir.Teachers) == 0 {
			return r.sendPlain(ctx, req, msgNoTeachers, nil)
		}
		return r.sendHTML(ctx, req, teachersText(r.dir.Teachers), nil)

	case CmdNotices:
		ns, err := r.store.ListRecentNotices(ctx, r.listLimit())
		if err != nil {
			req.Logger.Error("list notices failed", logx.Err(err))
			return r.sendPlain(ctx, req, msgNoticeFailed, nil)
		}
		if len(ns) == 0 {
			return r.sendPlain(ctx, req, msgNoNotices, nil)
		}
		return r.sendHTML(ctx, req, noticesText(ns), nil)

	case CmdResources:
		return r.showResources(ctx, req)
	}
	return nil
}

// showResources re-sends the latest uploads. One failed file does not stop
// the rest.
func (r *Router) showResources(ctx context.Context, req *Request) error {
	rs, err := r.store.ListRecentResources(ctx, r.listLimit())
	if err != nil {
		req.Logger.Error("list resources failed", logx.Err(err))
		return r.sendPlain(ctx, req, msgResFailed, nil)
	}
	if len(rs) == 0 {
		return r.sendPlain(ctx, req, msgNoResources, nil)
	}
	if err := r.sendHTML(ctx, req, tgui.B("📂 Latest resources:"), nil); err != nil {
		return err
	}
	failed := 0
	for _, res := range rs {
		caption := resourceCaption(res, r.loc)
		var err error
		if res.Kind == model.ResourcePhoto {
			err = r.out.SendPhoto(ctx, req.chat(), res.FileID, caption)
		} else {
			err = r.out.SendDocument(ctx, req.chat(), res.FileID, caption)
		}
		if err != nil {
			failed++
			req.Logger.Warn("resource send failed", logx.Int64("resource_id", res.ID), logx.String("kind", string(res.Kind)), logx.Err(err))
		}
	}
	if failed > 0 {
		req.Logger.Info("resources partially sent", logx.Int("failed", failed), logx.Int("total", len(rs)))
	}
	return nil
}

func (r *Router) listLimit() int {
	if r.dir.ListLimit > 0 {
		return r.dir.ListLimit
	}
	return 5
}
