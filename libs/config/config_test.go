package config

import "testing"

func TestBool(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"true", true},
		{"on", true},
		{"0", false},
		{"no", false},
		{"off", false},
		{"maybe", true}, // unparsable falls back
	}
	for _, tc := range cases {
		t.Setenv("TEST_BOOL", tc.value)
		if got := Bool("TEST_BOOL", true); got != tc.want {
			t.Errorf("Bool(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestBoolUnsetUsesFallback(t *testing.T) {
	if Bool("TEST_BOOL_UNSET", true) != true {
		t.Error("unset key must return the fallback")
	}
	if Bool("TEST_BOOL_UNSET", false) != false {
		t.Error("unset key must return the fallback")
	}
}
