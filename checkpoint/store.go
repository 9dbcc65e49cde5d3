package checkpoint

import (
	"bytes"

	"github.com/puzpuzpuz/xsync/v3"
)

// artifactKind distinguishes the two orthogonal artefacts spec.md §4.7
// names: an index checkpoint and a hybrid-log checkpoint, each keyed by
// its own Token.
type artifactKind int

const (
	kindIndex artifactKind = iota
	kindLog
)

type artifactKey struct {
	token Token
	kind  artifactKind
}

// Store persists checkpoint artifacts keyed by (Token, kind). The
// logical content is specified (spec.md §4.7's "persisted state
// layout"); its physical encoding is explicitly out of scope (spec.md
// §1(e)), so Store's backing is an in-memory byte-slice map rather than a
// filesystem. WriteIndexImage/WriteLogImage and ReadIndexImage/
// ReadLogImage are exported separately for a caller that wants its own
// durable copy alongside what Store holds.
//
// artifacts is keyed by (Token, kind) in a single xsync.MapOf rather than
// a mutex+map, since Put/Get for the two kinds never need to be atomic
// with respect to each other.
type Store struct {
	artifacts *xsync.MapOf[artifactKey, []byte]
}

// NewStore creates an empty in-memory checkpoint store.
func NewStore() *Store {
	return &Store{artifacts: xsync.NewMapOf[artifactKey, []byte]()}
}

// PutIndex persists img under token, returning the token for chaining.
func (s *Store) PutIndex(token Token, img IndexImage) (Token, error) {
	var buf bytes.Buffer
	if err := WriteIndexImage(&buf, img); err != nil {
		return Zero, err
	}
	s.artifacts.Store(artifactKey{token, kindIndex}, buf.Bytes())
	return token, nil
}

// PutLog persists img under token, returning the token for chaining.
func (s *Store) PutLog(token Token, img LogImage) (Token, error) {
	var buf bytes.Buffer
	if err := WriteLogImage(&buf, img); err != nil {
		return Zero, err
	}
	s.artifacts.Store(artifactKey{token, kindLog}, buf.Bytes())
	return token, nil
}

// GetIndex retrieves a previously stored index image.
func (s *Store) GetIndex(token Token) (IndexImage, bool, error) {
	raw, ok := s.artifacts.Load(artifactKey{token, kindIndex})
	if !ok {
		return IndexImage{}, false, nil
	}
	img, err := ReadIndexImage(bytes.NewReader(raw))
	return img, true, err
}

// GetLog retrieves a previously stored log image.
func (s *Store) GetLog(token Token) (LogImage, bool, error) {
	raw, ok := s.artifacts.Load(artifactKey{token, kindLog})
	if !ok {
		return LogImage{}, false, nil
	}
	img, err := ReadLogImage(bytes.NewReader(raw))
	return img, true, err
}
