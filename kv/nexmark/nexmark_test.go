package nexmark

import "testing"

func TestPersonEncodeDecodeRoundTrip(t *testing.T) {
	p := &Person{
		ID:           7,
		Name:         "Ada Lovelace",
		City:         "London",
		State:        "",
		EMail:        "ada@example.com",
		CreditCard:   "4111111111111111",
		DateTimeUnix: 1_700_000_000,
	}
	buf := make([]byte, p.Size())
	p.Encode(buf)

	got := DecodePerson(buf)
	if got.Name != p.Name || got.City != p.City || got.EMail != p.EMail {
		t.Fatalf("DecodePerson() = %+v, want fields matching %+v", got, p)
	}
	if got.DateTimeUnix != p.DateTimeUnix {
		t.Fatalf("DateTimeUnix = %d, want %d", got.DateTimeUnix, p.DateTimeUnix)
	}
}

func TestBidEncodeDecodeRoundTrip(t *testing.T) {
	b := &Bid{AuctionID: 1, BidderID: 2, Price: 9900, DateTimeUnix: 123}
	buf := make([]byte, b.Size())
	b.Encode(buf)

	got := DecodeBid(buf)
	if *got != *b {
		t.Fatalf("DecodeBid() = %+v, want %+v", got, b)
	}
}

func TestAuctionSizeAccountsForVariableFields(t *testing.T) {
	short := &Auction{ItemName: "pen", Description: "a pen"}
	long := &Auction{ItemName: "pen", Description: "a very long description of a pen indeed"}
	if long.Size() <= short.Size() {
		t.Fatalf("a longer description must produce a larger encoded size")
	}
}
