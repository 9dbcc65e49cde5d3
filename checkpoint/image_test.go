package checkpoint

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/marcbinz/hlkv/hlog"
)

func TestIndexImageRoundTrip(t *testing.T) {
	img := IndexImage{
		Bits:      5,
		Addresses: []hlog.Address{0, 8, 4096, 1 << 30},
	}

	var buf bytes.Buffer
	if err := WriteIndexImage(&buf, img); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadIndexImage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Bits != img.Bits {
		t.Errorf("Bits = %d, want %d", got.Bits, img.Bits)
	}
	if len(got.Addresses) != len(img.Addresses) {
		t.Fatalf("Addresses len = %d, want %d", len(got.Addresses), len(img.Addresses))
	}
	for i, a := range img.Addresses {
		if got.Addresses[i] != a {
			t.Errorf("Addresses[%d] = %d, want %d", i, got.Addresses[i], a)
		}
	}
}

func TestIndexImageRejectsForeignMagic(t *testing.T) {
	if _, err := ReadIndexImage(bytes.NewReader([]byte("not an image at all"))); err == nil {
		t.Errorf("ReadIndexImage on garbage bytes should fail")
	}
}

func TestLogImageRoundTrip(t *testing.T) {
	img := LogImage{
		Begin:            8,
		Head:             8,
		ReadOnly:         4096,
		TailAtCheckpoint: 8192,
		Version:          3,
		Sessions: []SessionSerial{
			{GUID: uuid.New(), Serial: 10},
			{GUID: uuid.New(), Serial: 20},
		},
		Suffix: bytes.Repeat([]byte{0xAB}, 256),
	}

	var buf bytes.Buffer
	if err := WriteLogImage(&buf, img); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadLogImage(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Begin != img.Begin || got.Head != img.Head || got.ReadOnly != img.ReadOnly || got.TailAtCheckpoint != img.TailAtCheckpoint {
		t.Errorf("anchors = %+v, want %+v", got, img)
	}
	if got.Version != img.Version {
		t.Errorf("Version = %d, want %d", got.Version, img.Version)
	}
	if len(got.Sessions) != len(img.Sessions) {
		t.Fatalf("Sessions len = %d, want %d", len(got.Sessions), len(img.Sessions))
	}
	for i, s := range img.Sessions {
		if got.Sessions[i] != s {
			t.Errorf("Sessions[%d] = %+v, want %+v", i, got.Sessions[i], s)
		}
	}
	if !bytes.Equal(got.Suffix, img.Suffix) {
		t.Errorf("Suffix mismatch")
	}
}

func TestStorePutGetIndexAndLog(t *testing.T) {
	store := NewStore()
	token := NewToken()

	indexImg := IndexImage{Bits: 4, Addresses: []hlog.Address{8, 16}}
	if _, err := store.PutIndex(token, indexImg); err != nil {
		t.Fatalf("putindex: %v", err)
	}
	logImg := LogImage{Begin: 8, Head: 8, ReadOnly: 8, TailAtCheckpoint: 8, Version: 1}
	if _, err := store.PutLog(token, logImg); err != nil {
		t.Fatalf("putlog: %v", err)
	}

	gotIndex, found, err := store.GetIndex(token)
	if err != nil || !found {
		t.Fatalf("getindex: found=%v err=%v", found, err)
	}
	if gotIndex.Bits != indexImg.Bits {
		t.Errorf("Bits = %d, want %d", gotIndex.Bits, indexImg.Bits)
	}

	gotLog, found, err := store.GetLog(token)
	if err != nil || !found {
		t.Fatalf("getlog: found=%v err=%v", found, err)
	}
	if gotLog.Version != logImg.Version {
		t.Errorf("Version = %d, want %d", gotLog.Version, logImg.Version)
	}

	if _, found, err := store.GetIndex(NewToken()); err != nil || found {
		t.Errorf("GetIndex of an unknown token should report not found, got found=%v err=%v", found, err)
	}
}

func TestTokenStringRoundTrip(t *testing.T) {
	token := NewToken()
	parsed, err := ParseToken(token.String())
	if err != nil {
		t.Fatalf("parsetoken: %v", err)
	}
	if parsed != token {
		t.Errorf("parsed token = %s, want %s", parsed, token)
	}
	if Zero.IsZero() != true {
		t.Errorf("Zero.IsZero() = false, want true")
	}
	if token.IsZero() {
		t.Errorf("a freshly minted token should not be zero")
	}
}
