// Package fixtures builds small, well-formed container buffers for tests.
package fixtures

import (
	"encoding/binary"
	"hash/crc32"
)

// GIF builds a 1x1 GIF89a stream with one image block. gctSize >= 0 adds a
// global colour table of 3*2^(gctSize+1) bytes; a negative value omits it.
// ext adds a graphic control extension before the image.
func GIF(gctSize int, ext bool) []byte {
	out := []byte("GIF89a")
	out = append(out, 0x01, 0x00, 0x01, 0x00)
	var packed byte
	if gctSize >= 0 {
		packed = 0x80 | byte(gctSize&0x07)
	}
	out = append(out, packed, 0x00, 0x00)
	if gctSize >= 0 {
		out = append(out, Palette(3*(1<<(gctSize+1)))...)
	}
	if ext {
		out = append(out, 0x21, 0xf9, 0x04, 0x00, 0x0a, 0x00, 0x00, 0x00)
	}
	out = append(out, GIFImage()...)
	return append(out, 0x3b)
}

// GIFImage is an image block: separator, descriptor, no local table, LZW
// minimum code size, and one data sub-block.
func GIFImage() []byte {
	return []byte{
		0x2c,
		0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00,
		0x02,
		0x02, 0x44, 0x01, 0x00,
	}
}

// Palette returns n deterministic palette bytes.
func Palette(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i * 7)
	}
	return out
}

// PNGSignature is the fixed eight-byte PNG magic.
var PNGSignature = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

// PNGChunk encodes one chunk with a correct CRC.
func PNGChunk(typ string, data []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(data)))
	out = append(out, typ...)
	out = append(out, data...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[4:]))
}

// IHDR is an 8-bit indexed-colour header chunk.
func IHDR(width, height uint32) []byte {
	data := binary.BigEndian.AppendUint32(nil, width)
	data = binary.BigEndian.AppendUint32(data, height)
	data = append(data, 8, 3, 0, 0, 0)
	return PNGChunk("IHDR", data)
}

// PNG builds signature, IHDR, an optional PLTE, one IDAT, and IEND.
func PNG(palette []byte) []byte {
	out := append([]byte(nil), PNGSignature...)
	out = append(out, IHDR(1, 1)...)
	if palette != nil {
		out = append(out, PNGChunk("PLTE", palette)...)
	}
	out = append(out, PNGChunk("IDAT", []byte{0x78, 0x9c, 0x63, 0x60, 0x00, 0x00, 0x00, 0x02, 0x00, 0x01})...)
	return append(out, PNGChunk("IEND", nil)...)
}

// RIFFChunk is one id/payload pair.
type RIFFChunk struct {
	ID   string
	Data []byte
}

// RIFF builds a little-endian RIFF container, padding odd chunks to even.
func RIFF(form string, chunks ...RIFFChunk) []byte {
	body := []byte(form)
	for _, c := range chunks {
		body = append(body, c.ID...)
		body = binary.LittleEndian.AppendUint32(body, uint32(len(c.Data)))
		body = append(body, c.Data...)
		if len(c.Data)%2 == 1 {
			body = append(body, 0)
		}
	}
	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

// WAVE builds a mono 8-bit PCM WAVE file holding samples.
func WAVE(samples []byte) []byte {
	format := []byte{
		0x01, 0x00, 0x01, 0x00,
		0x40, 0x1f, 0x00, 0x00,
		0x40, 0x1f, 0x00, 0x00,
		0x01, 0x00, 0x08, 0x00,
	}
	return RIFF("WAVE", RIFFChunk{ID: "fmt ", Data: format}, RIFFChunk{ID: "data", Data: samples})
}
