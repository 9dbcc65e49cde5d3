// Package nexmark provides the variable-length NEXMark record types
// (Person, Auction, Bid): a record of a handful of variable-length
// string fields alongside fixed-width numeric ones. Every NEXMark value
// is copy-on-update only - none of them implement kv.InPlaceValue, since
// a changed string field can change the record's total size, which the
// generation-lock protocol in spec.md §4.3 explicitly excludes from
// in-place mutation.
package nexmark

import (
	"encoding/binary"
	"hash/maphash"

	"github.com/marcbinz/hlkv/kv"
)

var seed = maphash.MakeSeed()

// ID is the common key type for all three NEXMark record kinds: a
// 64-bit entity id. Person, Auction, and Bid occupy disjoint id ranges in
// a real NEXMark generator, so a single key space is sufficient.
type ID uint64

func (k ID) Hash64() uint64 { return maphash.Bytes(seed, encodeUint64(uint64(k))) }

func (k ID) Equal(other any) bool {
	o, ok := other.(ID)
	return ok && k == o
}

func (k ID) Size() int { return 8 }

func (k ID) Encode(dst []byte) { binary.LittleEndian.PutUint64(dst, uint64(k)) }

func DecodeID(encoded []byte) ID { return ID(binary.LittleEndian.Uint64(encoded)) }

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// putString encodes a length-prefixed string: a uint32 byte length
// followed by the raw bytes.
func putString(dst []byte, s string) int {
	binary.LittleEndian.PutUint32(dst, uint32(len(s)))
	copy(dst[4:], s)
	return 4 + len(s)
}

func stringSize(s string) int { return 4 + len(s) }

func getString(src []byte) (string, int) {
	n := binary.LittleEndian.Uint32(src)
	s := string(src[4 : 4+n])
	return s, 4 + int(n)
}

// Person holds a name, city, and state, all variable length, plus the
// fields a real NEXMark generator attaches: email, credit card,
// registration time.
type Person struct {
	ID           uint64
	Name         string
	City         string
	State        string
	EMail        string
	CreditCard   string
	DateTimeUnix int64
}

func (p *Person) Size() int {
	return 8 + stringSize(p.Name) + stringSize(p.City) + stringSize(p.State) +
		stringSize(p.EMail) + stringSize(p.CreditCard) + 8
}

func (p *Person) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], p.ID)
	off := 8
	off += putString(dst[off:], p.Name)
	off += putString(dst[off:], p.City)
	off += putString(dst[off:], p.State)
	off += putString(dst[off:], p.EMail)
	off += putString(dst[off:], p.CreditCard)
	binary.LittleEndian.PutUint64(dst[off:off+8], uint64(p.DateTimeUnix))
}

func DecodePerson(encoded []byte) *Person {
	p := &Person{ID: binary.LittleEndian.Uint64(encoded[0:8])}
	off := 8
	var n int
	p.Name, n = getString(encoded[off:])
	off += n
	p.City, n = getString(encoded[off:])
	off += n
	p.State, n = getString(encoded[off:])
	off += n
	p.EMail, n = getString(encoded[off:])
	off += n
	p.CreditCard, n = getString(encoded[off:])
	off += n
	p.DateTimeUnix = int64(binary.LittleEndian.Uint64(encoded[off : off+8]))
	return p
}

// Auction is a NEXMark auction listing.
type Auction struct {
	ID          uint64
	ItemName    string
	Description string
	InitialBid  int64
	Reserve     int64
	Seller      uint64
	Category    uint64
	ExpiresUnix int64
}

func (a *Auction) Size() int {
	return 8 + stringSize(a.ItemName) + stringSize(a.Description) + 8 + 8 + 8 + 8 + 8
}

func (a *Auction) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], a.ID)
	off := 8
	off += putString(dst[off:], a.ItemName)
	off += putString(dst[off:], a.Description)
	binary.LittleEndian.PutUint64(dst[off:off+8], uint64(a.InitialBid))
	off += 8
	binary.LittleEndian.PutUint64(dst[off:off+8], uint64(a.Reserve))
	off += 8
	binary.LittleEndian.PutUint64(dst[off:off+8], a.Seller)
	off += 8
	binary.LittleEndian.PutUint64(dst[off:off+8], a.Category)
	off += 8
	binary.LittleEndian.PutUint64(dst[off:off+8], uint64(a.ExpiresUnix))
}

func DecodeAuction(encoded []byte) *Auction {
	a := &Auction{ID: binary.LittleEndian.Uint64(encoded[0:8])}
	off := 8
	var n int
	a.ItemName, n = getString(encoded[off:])
	off += n
	a.Description, n = getString(encoded[off:])
	off += n
	a.InitialBid = int64(binary.LittleEndian.Uint64(encoded[off : off+8]))
	off += 8
	a.Reserve = int64(binary.LittleEndian.Uint64(encoded[off : off+8]))
	off += 8
	a.Seller = binary.LittleEndian.Uint64(encoded[off : off+8])
	off += 8
	a.Category = binary.LittleEndian.Uint64(encoded[off : off+8])
	off += 8
	a.ExpiresUnix = int64(binary.LittleEndian.Uint64(encoded[off : off+8]))
	return a
}

// Bid is a single NEXMark bid against an auction.
type Bid struct {
	AuctionID    uint64
	BidderID     uint64
	Price        int64
	DateTimeUnix int64
}

func (b *Bid) Size() int { return 8 + 8 + 8 + 8 }

func (b *Bid) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], b.AuctionID)
	binary.LittleEndian.PutUint64(dst[8:16], b.BidderID)
	binary.LittleEndian.PutUint64(dst[16:24], uint64(b.Price))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(b.DateTimeUnix))
}

func DecodeBid(encoded []byte) *Bid {
	return &Bid{
		AuctionID:    binary.LittleEndian.Uint64(encoded[0:8]),
		BidderID:     binary.LittleEndian.Uint64(encoded[8:16]),
		Price:        int64(binary.LittleEndian.Uint64(encoded[16:24])),
		DateTimeUnix: int64(binary.LittleEndian.Uint64(encoded[24:32])),
	}
}

var (
	_ kv.Key   = ID(0)
	_ kv.Value = (*Person)(nil)
	_ kv.Value = (*Auction)(nil)
	_ kv.Value = (*Bid)(nil)
)
