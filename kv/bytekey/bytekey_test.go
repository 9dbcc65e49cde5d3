package bytekey

import "testing"

func TestKeyEqualAndHashStable(t *testing.T) {
	a := Key([]byte("user:42"))
	b := Key([]byte("user:42"))
	c := Key([]byte("user:43"))

	if !a.Equal(b) {
		t.Fatalf("identical byte keys should be Equal")
	}
	if a.Equal(c) {
		t.Fatalf("different byte keys should not be Equal")
	}
	if a.Hash64() != b.Hash64() {
		t.Fatalf("identical keys must hash identically")
	}
}

func TestValueEncodeDecode(t *testing.T) {
	v := Value("hello world")
	buf := make([]byte, v.Size())
	v.Encode(buf)

	got := DecodeValue(buf)
	if string(got) != "hello world" {
		t.Fatalf("DecodeValue() = %q, want %q", got, v)
	}
}
