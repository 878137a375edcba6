package armdisasm

import "fmt"

// Image is the immutable raw firmware byte sequence. Addresses into it use
// two parallel spaces: file offset (from 0) and virtual address (file
// offset + AppCodeBase). Everything past the initial linear decode is
// expressed in virtual addresses.
type Image struct {
	raw         []byte
	AppCodeBase uint32
}

// NewImage wraps program bytes with an initial (possibly zero, possibly
// wrong) code base; the base is refined by the Code-Base Estimator stage.
func NewImage(program []byte, base uint32) *Image {
	return &Image{raw: program, AppCodeBase: base}
}

// Size returns the image length in bytes.
func (im *Image) Size() int { return len(im.raw) }

// Offset converts a virtual address to a file offset.
func (im *Image) Offset(addr uint32) int64 {
	return int64(addr) - int64(im.AppCodeBase)
}

// VirtualAddr converts a file offset to a virtual address.
func (im *Image) VirtualAddr(offset uint32) uint32 {
	return offset + im.AppCodeBase
}

// InRange reports whether a virtual address falls within the image.
func (im *Image) InRange(addr uint32) bool {
	off := im.Offset(addr)
	return off >= 0 && off < int64(len(im.raw))
}

// Bytes returns n bytes of the image starting at virtual address addr, and
// whether the full range was resident. Implements strand.Reader.
func (im *Image) Bytes(addr uint32, n int) ([]byte, bool) {
	off := im.Offset(addr)
	if off < 0 || off+int64(n) > int64(len(im.raw)) {
		return nil, false
	}
	return im.raw[off : off+int64(n)], true
}

// Word32 reads a little-endian 32-bit word at virtual address addr.
func (im *Image) Word32(addr uint32) (uint32, bool) {
	b, ok := im.Bytes(addr, 4)
	if !ok {
		return 0, false
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

// Word32BE reads a big-endian 32-bit word, used for DataRegion population
// (§4.5(a)).
func (im *Image) Word32BE(addr uint32) (uint32, bool) {
	b, ok := im.Bytes(addr, 4)
	if !ok {
		return 0, false
	}
	return uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24, true
}

func (im *Image) String() string {
	return fmt.Sprintf("Image{%d bytes, base=0x%08x}", len(im.raw), im.AppCodeBase)
}
