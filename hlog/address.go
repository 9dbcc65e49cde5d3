package hlog

// Address is a 48-bit monotonically increasing offset into the logical
// log, as specified in spec.md §3. Address 0 is the null/sentinel value.
// An address encodes (page, offset) given a fixed power-of-two PageSize.
type Address uint64

// Null is the sentinel "no address" value. A record chain terminates at
// Null.
const Null Address = 0

// addressMask keeps an Address within 48 bits; the top 16 bits of the
// uint64 that carries it (e.g. inside a RecordHeader) are reserved.
const addressMask = (1 << 48) - 1

// IsNull reports whether a is the null address.
func (a Address) IsNull() bool { return a == Null }

// Page returns the page number containing a, given pageSize (a power of
// two).
func (a Address) Page(pageSize uint64) uint64 {
	return uint64(a) / pageSize
}

// Offset returns the byte offset of a within its page.
func (a Address) Offset(pageSize uint64) uint64 {
	return uint64(a) % pageSize
}

// Anchors holds the five monotonically non-decreasing log boundaries
// described in spec.md §3. All fields are accessed only through their
// atomic Load/advance helpers below; the struct itself must not be copied
// after first use.
type Anchors struct {
	begin        atomicAddress
	head         atomicAddress
	safeReadOnly atomicAddress
	readOnly     atomicAddress
	tail         atomicAddress
}

// Begin returns the earliest live address; data below this has been
// truncated.
func (a *Anchors) Begin() Address { return a.begin.Load() }

// Head returns the lowest address still resident in memory.
func (a *Anchors) Head() Address { return a.head.Load() }

// SafeReadOnly returns the upper bound below which every record is
// immutable and fully flushed.
func (a *Anchors) SafeReadOnly() Address { return a.safeReadOnly.Load() }

// ReadOnly returns the upper bound below which no in-place update is
// permitted.
func (a *Anchors) ReadOnly() Address { return a.readOnly.Load() }

// Tail returns the next allocation address.
func (a *Anchors) Tail() Address { return a.tail.Load() }

// advanceBegin moves begin forward to addr if addr is greater than the
// current value. All anchor advances are monotonic no-ops otherwise.
func (a *Anchors) advanceBegin(addr Address) { a.begin.AdvanceTo(addr) }
func (a *Anchors) advanceHead(addr Address)  { a.head.AdvanceTo(addr) }
func (a *Anchors) advanceSafeReadOnly(addr Address) {
	a.safeReadOnly.AdvanceTo(addr)
}
func (a *Anchors) advanceReadOnly(addr Address) { a.readOnly.AdvanceTo(addr) }

// bumpTail performs the single fetch-and-add allocation primitive and
// returns the address just before the bump (i.e. the start of the newly
// allocated range).
func (a *Anchors) bumpTail(size uint64) Address {
	return a.tail.Add(size)
}

// allocatePage is the page-aware allocation primitive: it behaves like
// bumpTail, except that a request that would straddle a page boundary
// instead wastes the remainder of the current page and starts at the
// next page boundary, so that no record ever spans two resident-page
// slots. When that happens, padStart/padLen describe the wasted span
// (within the page being abandoned) so the caller can stamp it with an
// invalid sentinel record; padLen is 0 when no padding was needed.
//
// size must not exceed pageSize; records larger than a page are not
// supported by this allocator.
func (a *Anchors) allocatePage(pageSize, size uint64) (start Address, padStart Address, padLen uint64) {
	for {
		cur := a.tail.Load()
		offset := cur.Offset(pageSize)
		var next Address
		var pStart Address
		var pLen uint64
		if offset+size > pageSize {
			start = Address((uint64(cur)/pageSize + 1) * pageSize)
			next = start + Address(size)
			pStart = cur
			pLen = pageSize - offset
		} else {
			start = cur
			next = cur + Address(size)
		}
		if a.tail.CAS(cur, next) {
			return start, pStart, pLen
		}
	}
}
