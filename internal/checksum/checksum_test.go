package checksum

import "testing"

func TestSum_Stable(t *testing.T) {
	a := Sum([]byte("hello"))
	b := Sum([]byte("hello"))
	if a != b {
		t.Fatalf("fingerprint not stable: %s vs %s", a, b)
	}
	if a == Sum([]byte("hello!")) {
		t.Error("different content must change the fingerprint")
	}
	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
}

func TestShort(t *testing.T) {
	if got := Short("abc"); got != "abc" {
		t.Errorf("Short(abc) = %q", got)
	}
	if got := Short(Sum(nil)); len(got) != 12 {
		t.Errorf("len = %d", len(got))
	}
}
