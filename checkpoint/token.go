// Package checkpoint implements the two-phase checkpoint/recover
// contract described in spec.md §4.7: an index image and a hybrid-log
// metadata record, each identified by a fresh 128-bit token, persisted
// through a Store and replayed by Recover.
package checkpoint

import "github.com/google/uuid"

// Token is the 128-bit checkpoint identifier from spec.md §6, rendered
// as the 36-character canonical hexadecimal form with four dashes -
// exactly uuid.UUID's String() representation, so adopting uuid.UUID as
// the underlying type satisfies the wire format for free.
type Token uuid.UUID

// Zero is the sentinel "no token" value.
var Zero Token

// NewToken mints a fresh token.
func NewToken() Token { return Token(uuid.New()) }

func (t Token) String() string { return uuid.UUID(t).String() }

func (t Token) IsZero() bool { return t == Zero }

// ParseToken parses a canonical 36-character token string.
func ParseToken(s string) (Token, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Zero, err
	}
	return Token(u), nil
}
