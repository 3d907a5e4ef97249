package wire

import "encoding/binary"

// HeaderSize is the fixed size in bytes of the bulk-channel header (§3, §6).
const HeaderSize = 128

// HeaderMagic and HeaderVersion identify an initialized bulk-channel mapping.
const (
	HeaderMagic   uint32 = 0x4D485356
	HeaderVersion uint32 = 1
)

// Header is the 128-byte, little-endian, fixed-layout bulk-channel header
// (§3 Data Model, §6 External Interfaces). Offsets 48-99 hold the extended
// chunked-transfer profile this repository selected (§9 Open Questions,
// resolution #1 in DESIGN.md); offsets 100-103 are unused and 104-127 are
// reserved padding.
type Header struct {
	Magic       uint32
	Version     uint32
	FrameBytes  uint64
	AToBSeq     uint64
	BToASeq     uint64
	AToBLength  uint64
	BToALength  uint64

	// Extended header: chunked-transfer fields (offsets 48-99).
	ChunkOffset    uint64
	ChunkLength    uint64
	ChunkSeq       uint64
	ChunkValid     uint32
	ChunkIndex     uint32
	ChunkTotalSize uint64
	ChunkSize      uint64
	ChunkCount     uint32

	// Reserved, zero-filled padding (offsets 104-127).
	Reserved [24]byte
}

// MarshalHeader encodes h into a HeaderSize-byte little-endian buffer,
// matching the §6 offset table field-by-field (the teacher's uapi.Marshal
// idiom of explicit binary.LittleEndian puts, generalized to this header).
func MarshalHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)

	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], h.FrameBytes)
	binary.LittleEndian.PutUint64(buf[16:24], h.AToBSeq)
	binary.LittleEndian.PutUint64(buf[24:32], h.BToASeq)
	binary.LittleEndian.PutUint64(buf[32:40], h.AToBLength)
	binary.LittleEndian.PutUint64(buf[40:48], h.BToALength)

	binary.LittleEndian.PutUint64(buf[48:56], h.ChunkOffset)
	binary.LittleEndian.PutUint64(buf[56:64], h.ChunkLength)
	binary.LittleEndian.PutUint64(buf[64:72], h.ChunkSeq)
	binary.LittleEndian.PutUint32(buf[72:76], h.ChunkValid)
	binary.LittleEndian.PutUint32(buf[76:80], h.ChunkIndex)
	binary.LittleEndian.PutUint64(buf[80:88], h.ChunkTotalSize)
	binary.LittleEndian.PutUint64(buf[88:96], h.ChunkSize)
	binary.LittleEndian.PutUint32(buf[96:100], h.ChunkCount)

	copy(buf[104:128], h.Reserved[:])

	return buf
}

// UnmarshalHeader decodes a HeaderSize-byte little-endian buffer into h.
func UnmarshalHeader(buf []byte, h *Header) error {
	if len(buf) < HeaderSize {
		return ErrShortHeader
	}

	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint32(buf[4:8])
	h.FrameBytes = binary.LittleEndian.Uint64(buf[8:16])
	h.AToBSeq = binary.LittleEndian.Uint64(buf[16:24])
	h.BToASeq = binary.LittleEndian.Uint64(buf[24:32])
	h.AToBLength = binary.LittleEndian.Uint64(buf[32:40])
	h.BToALength = binary.LittleEndian.Uint64(buf[40:48])

	h.ChunkOffset = binary.LittleEndian.Uint64(buf[48:56])
	h.ChunkLength = binary.LittleEndian.Uint64(buf[56:64])
	h.ChunkSeq = binary.LittleEndian.Uint64(buf[64:72])
	h.ChunkValid = binary.LittleEndian.Uint32(buf[72:76])
	h.ChunkIndex = binary.LittleEndian.Uint32(buf[76:80])
	h.ChunkTotalSize = binary.LittleEndian.Uint64(buf[80:88])
	h.ChunkSize = binary.LittleEndian.Uint64(buf[88:96])
	h.ChunkCount = binary.LittleEndian.Uint32(buf[96:100])

	copy(h.Reserved[:], buf[104:128])

	return nil
}

// ErrShortHeader is returned when a buffer is too small to hold a Header.
type marshalError string

func (e marshalError) Error() string { return string(e) }

const ErrShortHeader = marshalError("wire: buffer shorter than header size")
