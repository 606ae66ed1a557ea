package config

import "time"

const (
	DefaultPollTimeout        = 10 * time.Second
	DefaultBusyTimeout        = 2 * time.Second
	DefaultReminderEvery      = 60 * time.Second
	DefaultReminderFirstDelay = 10 * time.Second
	DefaultReminderLead       = 5 * time.Minute
	DefaultReminderResetAt    = "00:00"
	DefaultReminderTimeout    = 45 * time.Second
	DefaultSessionIdle        = 15 * time.Minute
	DefaultSessionSweep       = time.Minute
	DefaultDispatchWorkers    = 8
	DefaultDispatchQueue      = 256
	DefaultListLimit          = 5
	DefaultStoragePath        = "./data/classbot.db"
)

func defaultTeachers() []Teacher {
	return []Teacher{
		{Name: "Asad Sir", Subject: "Mathematics", Phone: "013xxxxxxxx", Email: "asad@example.com"},
		{Name: "Moni Khan", Subject: "CSE", Phone: "017xxxxxxxx", Email: "moni@example.com"},
		{Name: "Rahim Uddin", Subject: "Physics", Phone: "018xxxxxxxx", Email: "rahim@example.com"},
	}
}

func defaultRoutine() []RoutineDay {
	return []RoutineDay{
		{Day: "Sunday", Classes: []RoutineSlot{
			{Course: "CSE 101", Time: "09:30 - 10:45", Room: "301"},
			{Course: "MAT 102", Time: "11:00 - 12:50", Room: "502"},
		}},
		{Day: "Monday", Classes: []RoutineSlot{
			{Course: "PHY 103", Time: "09:30 - 10:45", Room: "Lab 2"},
		}},
		{Day: "Thursday", Classes: []RoutineSlot{
			{Course: "LAB FINAL", Time: "10:00 - 01:00", Room: "Lab 1"},
		}},
	}
}

// applyDefaults fills every omitted field.
func (c *Config) applyDefaults() {
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Reminder.ResetAt == "" {
		c.Reminder.ResetAt = DefaultReminderResetAt
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = DefaultDispatchWorkers
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = DefaultDispatchQueue
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if len(c.Directory.Teachers) == 0 && len(c.Directory.Routine) == 0 {
		c.Directory.Teachers = defaultTeachers()
		c.Directory.Routine = defaultRoutine()
	}
	if c.Directory.ListLimit <= 0 {
		c.Directory.ListLimit = DefaultListLimit
	}
}
