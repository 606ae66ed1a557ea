package config

// Config is the on-disk configuration. It is loaded once at startup and never
// mutated afterwards.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	// Admins are the usernames (with or without "@") allowed to run the
	// privileged flows. Matching is case-insensitive.
	Admins   []string `json:"admins"`
	Timezone string   `json:"timezone"` // IANA TZ, e.g. "Asia/Dhaka"

	Storage   StorageConfig   `json:"storage"`
	Reminder  ReminderConfig  `json:"reminder"`
	Session   SessionConfig   `json:"session"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Logging   LoggingConfig   `json:"logging"`
	Directory DirectoryConfig `json:"directory"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// StorageConfig controls the SQLite store.
//
// Example:
//
//	"storage": { "path": "./data/classbot.db", "busy_timeout": "2s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ReminderConfig controls the class alert scan and the daily reset.
//
// Defaults: every "60s", first_delay "10s", lead "5m", reset_at "00:00",
// timeout "45s".
type ReminderConfig struct {
	Every      string `json:"every,omitempty"`
	FirstDelay string `json:"first_delay,omitempty"`
	Lead       string `json:"lead,omitempty"`
	ResetAt    string `json:"reset_at,omitempty"`
	// Timeout bounds one alert run, including every send. Sends are paced at
	// broadcast.rate_per_sec, so a run reaches about timeout*rate_per_sec
	// recipients (45s at 20/s is ~920). Recipients still queued at the
	// deadline are counted as failed and are not retried.
	Timeout string `json:"timeout,omitempty"`
}

// SessionConfig bounds abandoned form sessions. Defaults: idle_timeout "15m",
// sweep_every "1m".
type SessionConfig struct {
	IdleTimeout string `json:"idle_timeout,omitempty"`
	SweepEvery  string `json:"sweep_every,omitempty"`
}

type BroadcastConfig struct {
	Workers    int `json:"workers,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// DispatchConfig sizes the inbound update pipeline.
type DispatchConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warn+ log lines to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DirectoryConfig holds the static screens: the teacher list and the weekly
// routine. When both are omitted a built-in sample is used.
type DirectoryConfig struct {
	Teachers []Teacher    `json:"teachers,omitempty"`
	Routine  []RoutineDay `json:"routine,omitempty"`
	// ListLimit caps the notices and resources screens. 0 means 5.
	ListLimit int `json:"list_limit,omitempty"`
}

type Teacher struct {
	Name    string `json:"name"`
	Subject string `json:"subject,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

type RoutineDay struct {
	Day     string        `json:"day"`
	Classes []RoutineSlot `json:"classes"`
}

type RoutineSlot struct {
	Course string `json:"course"`
	Time   string `json:"time"`
	Room   string `json:"room,omitempty"`
}
