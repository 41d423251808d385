package logging

import "testing"

func TestHasFmtVerb(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"plain message", false},
		{"loaded config", false},
		{"100%% done", false},
		{"value is %d", true},
		{"path %s not found", true},
		{"%v", true},
	}
	for _, c := range cases {
		if got := hasFmtVerb(c.msg); got != c.want {
			t.Errorf("hasFmtVerb(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestSetLevelAndGetLevel(t *testing.T) {
	ensureInit()
	SetLevel(LevelDebug)
	if GetLevel() != LevelDebug {
		t.Errorf("GetLevel() = %d, want %d", GetLevel(), LevelDebug)
	}
	SetLevel(LevelInfo)
	if GetLevel() != LevelInfo {
		t.Errorf("GetLevel() = %d, want %d", GetLevel(), LevelInfo)
	}
}
