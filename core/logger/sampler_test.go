package logger

import "testing"

func TestKeyedSamplerPerKey(t *testing.T) {
	s := newKeyedSampler(1, 3)
	var text, cb int
	for i := 0; i < 6; i++ {
		if s.Allow("text") {
			text++
		}
	}
	if s.Allow("callback") {
		cb++
	}
	if text != 2 {
		t.Fatalf("text allowed %d times, want 2", text)
	}
	if cb != 1 {
		t.Fatal("first callback should pass regardless of text volume")
	}
}

func TestKeyedSamplerDisabled(t *testing.T) {
	s := newKeyedSampler(0, 0)
	for i := 0; i < 5; i++ {
		if !s.Allow("text") {
			t.Fatal("disabled sampler must allow everything")
		}
	}
}

func TestParseRatio(t *testing.T) {
	cases := map[string][2]int{
		"":      {0, 0},
		"1/10":  {1, 10},
		" 20 ":  {1, 20},
		"0":     {0, 0},
		"x/2":   {0, 0},
		"2 / 5": {2, 5},
	}
	for in, want := range cases {
		n, d := parseRatio(in)
		if n != want[0] || d != want[1] {
			t.Errorf("parseRatio(%q) = %d/%d, want %d/%d", in, n, d, want[0], want[1])
		}
	}
}
