package vm

import (
	"fmt"
	"strings"
)

// Value is a single tagged machine word.
//
// The low three bits select the kind; the rest is the payload. Atoms and
// integers are immediates: they live entirely inside the word and never
// occupy a heap cell, so copying a Value never aliases mutable state unless
// it is a pair reference.
//
// Encoding scheme:
//   - Pair:        index << 3            (tag 0)
//   - Atom:        bytes[0..3] << 3 | 1  (tag 1, bytes little-endian in a 32-bit payload)
//   - UInt:        n << 3 | 2            (tag 2, 29-bit unsigned)
//   - BrokenHeart: 7                     (tag 7, collector-internal forwarding mark)
//
// The zero word is Nil: an absent field, or the empty list.
type Value uint64

// Tag constants
const (
	tagShift        = 3
	tagMask  uint64 = 0x7

	tagPair        uint64 = 0
	tagAtom        uint64 = 1
	tagUint        uint64 = 2
	tagBrokenHeart uint64 = 7

	atomPayloadMask uint64 = 0xFFFFFFFF
)

// UInt range (29-bit unsigned)
const (
	UintBits        = 29
	MaxUint  uint32 = 1<<UintBits - 1 // 536,870,911
)

// Pre-defined values
const (
	Nil         Value = 0
	BrokenHeart Value = Value(tagBrokenHeart)
)

// Kind is the decoded discriminant of a Value.
type Kind uint8

const (
	KindPair Kind = iota
	KindAtom
	KindUint
	KindBrokenHeart
	KindInvalid
)

var kindNames = [...]string{
	KindPair:        "pair",
	KindAtom:        "atom",
	KindUint:        "uint",
	KindBrokenHeart: "broken-heart",
	KindInvalid:     "invalid",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Kind decodes the discriminant of v. Tags 3 through 6 are unused and
// decode as KindInvalid.
func (v Value) Kind() Kind {
	switch uint64(v) & tagMask {
	case tagPair:
		return KindPair
	case tagAtom:
		return KindAtom
	case tagUint:
		return KindUint
	case tagBrokenHeart:
		return KindBrokenHeart
	default:
		return KindInvalid
	}
}

// IsPair returns true if v is a pair reference. Nil is a pair reference.
func (v Value) IsPair() bool {
	return uint64(v)&tagMask == tagPair
}

// IsAtom returns true if v is an immediate atom.
func (v Value) IsAtom() bool {
	return uint64(v)&tagMask == tagAtom
}

// IsUint returns true if v is an immediate unsigned integer.
func (v Value) IsUint() bool {
	return uint64(v)&tagMask == tagUint
}

// IsBrokenHeart returns true if v is the collector's forwarding mark.
func (v Value) IsBrokenHeart() bool {
	return v == BrokenHeart
}

// IsLeaf returns true if v is an immediate (atom or integer).
func (v Value) IsLeaf() bool {
	return v.IsAtom() || v.IsUint()
}

// ---------------------------------------------------------------------------
// Pair references
// ---------------------------------------------------------------------------

// FromPair creates a reference to the cell at index.
func FromPair(index int) Value {
	if index < 0 {
		panic("FromPair: negative index")
	}
	return Value(uint64(index) << tagShift)
}

// Index returns the cell index referenced by v.
// Panics if v is not a pair reference.
func (v Value) Index() int {
	if !v.IsPair() {
		panic("Value.Index: not a pair")
	}
	return int(uint64(v) >> tagShift)
}

// ---------------------------------------------------------------------------
// Atoms
// ---------------------------------------------------------------------------

// FromAtom packs up to four bytes into an immediate atom.
func FromAtom(b [4]byte) Value {
	payload := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
	return Value(payload<<tagShift | tagAtom)
}

// FromAtomString packs the first four bytes of s into an atom. Shorter
// strings are padded with NUL bytes.
func FromAtomString(s string) Value {
	var b [4]byte
	copy(b[:], s)
	return FromAtom(b)
}

// AtomBytes returns the four packed bytes of v.
// Panics if v is not an atom.
func (v Value) AtomBytes() [4]byte {
	if !v.IsAtom() {
		panic("Value.AtomBytes: not an atom")
	}
	payload := (uint64(v) >> tagShift) & atomPayloadMask
	return [4]byte{
		byte(payload),
		byte(payload >> 8),
		byte(payload >> 16),
		byte(payload >> 24),
	}
}

// AtomString returns the atom's characters with trailing NUL padding removed.
func (v Value) AtomString() string {
	b := v.AtomBytes()
	return strings.TrimRight(string(b[:]), "\x00")
}

// ---------------------------------------------------------------------------
// Unsigned integers
// ---------------------------------------------------------------------------

// FromUint creates an immediate integer. Bits above the 29-bit payload are
// discarded.
func FromUint(n uint32) Value {
	return Value(uint64(n&MaxUint)<<tagShift | tagUint)
}

// Uint returns v as an unsigned integer.
// Panics if v is not an integer.
func (v Value) Uint() uint32 {
	if !v.IsUint() {
		panic("Value.Uint: not an integer")
	}
	return uint32(uint64(v) >> tagShift)
}

// String renders v for diagnostics.
func (v Value) String() string {
	switch v.Kind() {
	case KindPair:
		if v == Nil {
			return "nil"
		}
		return fmt.Sprintf("#%d", v.Index())
	case KindAtom:
		return fmt.Sprintf("%q", v.AtomString())
	case KindUint:
		return fmt.Sprintf("%d", v.Uint())
	case KindBrokenHeart:
		return "<broken-heart>"
	default:
		return fmt.Sprintf("<invalid %#x>", uint64(v))
	}
}
