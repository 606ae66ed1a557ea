package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestParseYAMLAndJSON(t *testing.T) {
	t.Parallel()
	yml := `
telegram:
  token: "abc"
  poll_timeout: "20s"
admins: ["@Rep", "acr"]
timezone: Asia/Dhaka
reminder:
  lead: 10m
directory:
  teachers:
    - name: Moni Khan
      subject: CSE
`
	cfg, err := Parse("c.yaml", []byte(yml))
	if err != nil {
		t.Fatalf("Parse yaml: %v", err)
	}
	if cfg.Telegram.Token != "abc" || len(cfg.Admins) != 2 || cfg.Reminder.Lead != "10m" {
		t.Fatalf("yaml cfg = %+v", cfg)
	}
	if len(cfg.Directory.Teachers) != 1 || cfg.Directory.Teachers[0].Subject != "CSE" {
		t.Fatalf("teachers = %+v", cfg.Directory.Teachers)
	}

	js := `{"telegram":{"token":"x"},"admins":["a"]}`
	cfg, err = Parse("c.json", []byte(js))
	if err != nil {
		t.Fatalf("Parse json: %v", err)
	}
	if cfg.Telegram.Token != "x" {
		t.Fatalf("json token = %q", cfg.Telegram.Token)
	}
}

func TestParseStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, path, body string
	}{
		{"unknown key json", "c.json", `{"telegram":{"token":"x","owner":1}}`},
		{"unknown key yaml", "c.yml", "telegram:\n  token: x\nplugins: {}\n"},
		{"trailing data", "c.json", `{"telegram":{}} {}`},
		{"bad yaml", "c.yaml", "telegram: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse(tt.path, []byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{Telegram: TelegramConfig{Token: "x"}}
	cfg.applyDefaults()
	r, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.ReminderEvery != time.Minute || r.ReminderFirstDelay != 10*time.Second || r.ReminderLead != 5*time.Minute {
		t.Fatalf("reminder = %v/%v/%v", r.ReminderEvery, r.ReminderFirstDelay, r.ReminderLead)
	}
	if r.SessionIdle != 15*time.Minute || r.Location != time.Local {
		t.Fatalf("resolved = %+v", r)
	}
	if cfg.Reminder.ResetAt != "00:00" || cfg.Directory.ListLimit != 5 || len(cfg.Directory.Teachers) == 0 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Timezone: "Mars/Olympus",
		Reminder: ReminderConfig{ResetAt: "25:00", Every: "soon"},
		Storage:  StorageConfig{Path: "x.db"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"telegram.token", "reminder.reset_at", "reminder.every", "timezone"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadAppliesEnvOverlay(t *testing.T) {
	p := writeFile(t, "classbot.json", `{"telegram":{"token":"file"},"admins":["a"],"timezone":"UTC"}`)
	t.Setenv("BOT_TOKEN", "from-env")
	t.Setenv("CLASSBOT_ADMINS", "rep,@acr")
	t.Setenv("CLASSBOT_TIMEZONE", "Asia/Dhaka")
	t.Setenv("CLASSBOT_DB_PATH", "/tmp/x.db")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Admins) != 2 || cfg.Admins[1] != "@acr" {
		t.Fatalf("admins = %v", cfg.Admins)
	}
	if cfg.Timezone != "Asia/Dhaka" || cfg.Storage.Path != "/tmp/x.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, ".env", "CLASSBOT_TEST_DOTENV=loaded\n")
	t.Setenv("CLASSBOT_TEST_DOTENV", "")
	os.Unsetenv("CLASSBOT_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CLASSBOT_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("env = %q, want loaded", got)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Second, false},
		{"0s", time.Second, false},
		{" 90s ", 90 * time.Second, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration("reminder.every", tt.raw, time.Second)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseDuration(%q) = (%v, %v), want (%v, err=%v)", tt.raw, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestYAMLToJSON(t *testing.T) {
	t.Parallel()
	got, err := yamlToJSON([]byte("admins: [\"@rep\"]\ndirectory:\n  list_limit: 3\n"))
	if err != nil {
		t.Fatalf("yamlToJSON: %v", err)
	}
	if string(got) != `{"admins":["@rep"],"directory":{"list_limit":3}}` {
		t.Fatalf("json = %s", got)
	}
	if got, err := yamlToJSON(nil); err != nil || string(got) != "{}" {
		t.Fatalf("empty = (%s, %v)", got, err)
	}
	if _, err := yamlToJSON([]byte("a: 1\n---\nb: 2\n")); err == nil {
		t.Fatal("second document accepted")
	}
	if _, err := Parse("c.yml", []byte("telegram:\n  tokn: x\n")); err == nil {
		t.Fatal("unknown yaml key accepted")
	}
}
