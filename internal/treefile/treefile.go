package treefile

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"

	"github.com/danmuck/binform/internal/tree"
)

const (
	Version = 1

	headerSize = 13
	// MaxPayload bounds the declared uncompressed payload size.
	MaxPayload = 1 << 30
)

var magic = [4]byte{'B', 'F', 'T', '1'}

var (
	ErrInvalidFile    = errors.New("treefile: invalid file")
	ErrDigestMismatch = errors.New("treefile: source digest mismatch")
)

// Digest is a keyed BLAKE3 hash of a source buffer.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

var sourceKey = [32]byte{
	'b', 'i', 'n', 'f', 'o', 'r', 'm', '.', 's', 'o', 'u', 'r', 'c', 'e',
}

// Sum hashes a source buffer in the tree-file domain.
func Sum(data []byte) Digest {
	h, err := blake3.NewKeyed(sourceKey[:])
	if err != nil {
		panic("treefile: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// File is the persisted form of a tree together with the size and digest of
// the buffer it was decomposed from.
type File struct {
	Version int        `cbor:"version"`
	Grammar string     `cbor:"grammar"`
	Size    int        `cbor:"size"`
	Digest  Digest     `cbor:"digest"`
	Root    *tree.Node `cbor:"root"`
}

// New captures t and the digest of its source buffer.
func New(t *tree.Tree, source []byte) *File {
	return &File{
		Version: Version,
		Grammar: t.Grammar,
		Size:    len(source),
		Digest:  Sum(source),
		Root:    t.Root,
	}
}

// Tree returns the stored tree.
func (f *File) Tree() *tree.Tree {
	return &tree.Tree{Grammar: f.Grammar, Root: f.Root}
}

// Verify checks that buf is the buffer the tree was decomposed from.
func (f *File) Verify(buf []byte) error {
	if len(buf) != f.Size {
		return fmt.Errorf("%w: %d bytes, recorded %d", ErrDigestMismatch, len(buf), f.Size)
	}
	if got := Sum(buf); got != f.Digest {
		return fmt.Errorf("%w: got %s, recorded %s", ErrDigestMismatch, got, f.Digest)
	}
	return nil
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("treefile: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 24, MaxNestedLevels: 512}.DecMode()
	if err != nil {
		panic("treefile: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode renders f as header plus payload. An incompressible payload is
// stored uncompressed and tagged as such.
func Encode(f *File, c Compression) ([]byte, error) {
	if f.Root == nil {
		return nil, fmt.Errorf("%w: no root", ErrInvalidFile)
	}
	payload, err := encMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("treefile: encode: %w", err)
	}
	body, err := compress(payload, c)
	if errors.Is(err, errIncompressible) {
		c, body, err = CompressionNone, payload, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, headerSize+len(body))
	out = append(out, magic[:]...)
	out = append(out, byte(c))
	out = binary.BigEndian.AppendUint64(out, uint64(len(payload)))
	return append(out, body...), nil
}

// Decode parses a buffer produced by Encode.
func Decode(buf []byte) (*File, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidFile, len(buf))
	}
	if !bytes.Equal(buf[:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic % x", ErrInvalidFile, buf[:4])
	}
	c := Compression(buf[4])
	size := binary.BigEndian.Uint64(buf[5:headerSize])
	if size > MaxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrInvalidFile, size, MaxPayload)
	}
	payload, err := decompress(buf[headerSize:], c, int(size))
	if err != nil {
		return nil, err
	}

	var f File
	if err := decMode.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrInvalidFile, f.Version, Version)
	}
	if f.Root == nil {
		return nil, fmt.Errorf("%w: no root", ErrInvalidFile)
	}
	if err := f.Tree().Walk(checkNode); err != nil {
		return nil, err
	}
	return &f, nil
}

// checkNode rejects pattern nodes stored without the params needed to
// re-encode them.
func checkNode(n *tree.Node, depth int) error {
	if n == nil {
		return fmt.Errorf("%w: nil node at depth %d", ErrInvalidFile, depth)
	}
	if n.Params == nil && n.Kind != tree.KindRoot && n.Kind != tree.KindRepeat {
		return fmt.Errorf("%w: %s has no params", ErrInvalidFile, n.Path)
	}
	return nil
}

// Write encodes f to w.
func Write(w io.Writer, f *File, c Compression) error {
	buf, err := Encode(f, c)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Read decodes a file from r.
func Read(r io.Reader) (*File, error) {
	buf, err := io.ReadAll(io.LimitReader(r, headerSize+MaxPayload+1))
	if err != nil {
		return nil, err
	}
	return Decode(buf)
}

// WriteFile encodes f to path.
func WriteFile(path string, f *File, c Compression) error {
	buf, err := Encode(f, c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return err
	}
	log.Debug().Str("path", path).Str("grammar", f.Grammar).Int("bytes", len(buf)).Str("compression", Compression(buf[4]).String()).Msg("tree file written")
	return nil
}

// ReadFile decodes the file at path.
func ReadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := Read(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
