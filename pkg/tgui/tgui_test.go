package tgui

import "testing"

func TestEscAndWrap(t *testing.T) {
	t.Parallel()
	if got := B("a<b>&c").String(); got != "<b>a&lt;b&gt;&amp;c</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := Lines(Esc("x"), Code("y")).String(); got != "x\n<code>y</code>" {
		t.Fatalf("Lines = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("héllo", 10); got != "héllo" {
		t.Fatalf("unchanged = %q", got)
	}
	if got := TruncRunes("héllo", 2); got != "hé…" {
		t.Fatalf("truncated = %q", got)
	}
	if got := TruncRunes("abc", 0); got != "" {
		t.Fatalf("zero = %q", got)
	}
}

func TestReplyKeyboardSkipsEmpty(t *testing.T) {
	t.Parallel()
	rm := ReplyKeyboard([][]string{{"A", ""}, {}, {"B", "C"}})
	if !rm.ResizeKeyboard {
		t.Fatal("expected resized keyboard")
	}
	if len(rm.ReplyKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(rm.ReplyKeyboard))
	}
	if len(rm.ReplyKeyboard[0]) != 1 || rm.ReplyKeyboard[0][0].Text != "A" {
		t.Fatalf("first row = %+v", rm.ReplyKeyboard[0])
	}
}
