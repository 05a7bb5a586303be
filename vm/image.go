package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Heap images: CBOR snapshots of a store
// ---------------------------------------------------------------------------

// ImageVersion is the current heap image format version.
const ImageVersion = 1

// HeapImage is a snapshot of a store. Words holds head, tail pairs for
// cells 0 through Used in their raw tagged encoding, so images from
// different builds stay bit-compatible.
type HeapImage struct {
	Version      int      `cbor:"1,keyasint"`
	Capacity     int      `cbor:"2,keyasint"`
	NextCapacity int      `cbor:"3,keyasint"`
	Used         int      `cbor:"4,keyasint"`
	Collections  int      `cbor:"5,keyasint,omitempty"`
	Words        []uint64 `cbor:"6,keyasint"`
}

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// MarshalImage serializes a HeapImage to canonical CBOR bytes.
func MarshalImage(img *HeapImage) ([]byte, error) {
	return imageEncMode.Marshal(img)
}

// UnmarshalImage deserializes a HeapImage from CBOR bytes.
func UnmarshalImage(data []byte) (*HeapImage, error) {
	var img HeapImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptImage, err)
	}
	return &img, nil
}

// Image captures the used part of the heap.
func (s *Store) Image() *HeapImage {
	s.ensure()
	words := make([]uint64, 0, 2*(s.used+1))
	for i := 0; i <= s.used; i++ {
		words = append(words, uint64(s.cells[i].Head), uint64(s.cells[i].Tail))
	}
	return &HeapImage{
		Version:      ImageVersion,
		Capacity:     s.capacity,
		NextCapacity: s.nextCapacity,
		Used:         s.used,
		Collections:  s.collections,
		Words:        words,
	}
}

// LoadImage rebuilds a store from an image. Every word must carry a valid
// tag and every pair reference must point at a used cell other than the
// root cell.
func LoadImage(img *HeapImage, opts ...StoreOption) (*Store, error) {
	if img.Version != ImageVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptImage, img.Version)
	}
	if img.Used < 0 || len(img.Words) != 2*(img.Used+1) {
		return nil, fmt.Errorf("%w: %d words for %d used cells", ErrCorruptImage, len(img.Words), img.Used)
	}
	if img.Capacity < img.Used+1 || img.NextCapacity < img.Capacity {
		return nil, fmt.Errorf("%w: capacity %d/%d cannot hold %d cells",
			ErrCorruptImage, img.Capacity, img.NextCapacity, img.Used)
	}

	for i, w := range img.Words {
		v := Value(w)
		switch v.Kind() {
		case KindPair:
			if v != Nil && (v.Index() == 0 || v.Index() > img.Used) {
				return nil, fmt.Errorf("%w: word %d references cell %d", ErrCorruptImage, i, v.Index())
			}
		case KindAtom, KindUint:
		default:
			return nil, fmt.Errorf("%w: word %d has %s tag", ErrCorruptImage, i, v.Kind())
		}
	}

	s := NewStore(opts...)
	s.cells = make([]Cell, img.Capacity)
	for i := 0; i <= img.Used; i++ {
		s.cells[i] = Cell{Head: Value(img.Words[2*i]), Tail: Value(img.Words[2*i+1])}
	}
	s.used = img.Used
	s.capacity = img.Capacity
	s.nextCapacity = img.NextCapacity
	s.collections = img.Collections
	return s, nil
}
