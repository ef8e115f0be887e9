package memtex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// MTEX layout: a fixed little-endian header followed by the zstd-compressed
// concatenation of every frame.
//
//	magic    [4]byte "MTEX"
//	version  uint16
//	format   uint16
//	width    uint32
//	height   uint32
//	frames   uint32
//	flags    uint32
//	rawSize  uint32  uncompressed payload length
const containerVersion = 1

// MaxPayload bounds the uncompressed payload a container may declare.  It
// admits an 8192x8192 RGBA8888 frame.
const MaxPayload = 256 << 20

var magic = [4]byte{'M', 'T', 'E', 'X'}

// ErrBadContainer is returned for files that are not valid MTEX containers.
var ErrBadContainer = errors.New("memtex: malformed container")

type header struct {
	Magic   [4]byte
	Version uint16
	Format  uint16
	Width   uint32
	Height  uint32
	Frames  uint32
	Flags   uint32
	RawSize uint32
}

var zstdEncPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		)
		if err != nil {
			panic(err)
		}
		return enc
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(MaxPayload),
		)
		if err != nil {
			panic(err)
		}
		return dec
	},
}

func marshal(t *Texture) ([]byte, error) {
	var raw bytes.Buffer
	for _, fr := range t.frames {
		raw.Write(fr)
	}
	h := header{
		Magic:   magic,
		Version: containerVersion,
		Format:  uint16(t.format),
		Width:   uint32(t.width),
		Height:  uint32(t.height),
		Frames:  uint32(len(t.frames)),
		Flags:   uint32(t.flags),
		RawSize: uint32(raw.Len()),
	}

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	enc := zstdEncPool.Get().(*zstd.Encoder)
	payload := enc.EncodeAll(raw.Bytes(), nil)
	zstdEncPool.Put(enc)
	out.Write(payload)
	return out.Bytes(), nil
}

// Unmarshal parses an MTEX container.
func Unmarshal(data []byte) (*Texture, error) {
	var h header
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadContainer, err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadContainer, h.Magic[:])
	}
	if h.Version != containerVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadContainer, h.Version)
	}
	f := core.Format(h.Format)
	w, ht, n := int(h.Width), int(h.Height), int(h.Frames)
	if err := checkShape(w, ht, f, n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadContainer, err)
	}
	if h.RawSize > MaxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrBadContainer, h.RawSize, MaxPayload)
	}
	frameSize := f.FrameSize(w, ht)
	if uint64(frameSize)*uint64(n) != uint64(h.RawSize) {
		return nil, fmt.Errorf("%w: payload size %d for %d frames of %d bytes", ErrBadContainer, h.RawSize, n, frameSize)
	}

	dec := zstdDecPool.Get().(*zstd.Decoder)
	raw, err := dec.DecodeAll(data[len(data)-r.Len():], nil)
	zstdDecPool.Put(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrBadContainer, err)
	}
	if len(raw) != int(h.RawSize) {
		return nil, fmt.Errorf("%w: payload decoded to %d bytes, want %d", ErrBadContainer, len(raw), h.RawSize)
	}

	t := &Texture{width: w, height: ht, format: f, flags: core.TextureFlag(h.Flags), frames: make([][]byte, n)}
	for i := range t.frames {
		t.frames[i] = raw[i*frameSize : (i+1)*frameSize : (i+1)*frameSize]
	}
	return t, nil
}

// Load reads an MTEX container from path.
func Load(path string) (*Texture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "memtex.load", err)
	}
	t, err := Unmarshal(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "memtex.load", err)
	}
	return t, nil
}
