package reconstruct

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/danmuck/binform/internal/decompose"
	"github.com/danmuck/binform/internal/grammar"
	"github.com/danmuck/binform/internal/pattern"
	"github.com/danmuck/binform/internal/testutil/fixtures"
	"github.com/danmuck/binform/internal/testutil/testlog"
	"github.com/danmuck/binform/internal/tree"
	"github.com/danmuck/binform/internal/validate"
)

func decomposed(t *testing.T, name string, buf []byte) *tree.Tree {
	t.Helper()
	g, err := grammar.Builtin(name, nil)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	tr, err := decompose.Decompose(g, buf)
	if err != nil {
		t.Fatalf("decompose %s: %v", name, err)
	}
	return tr
}

func TestRoundTripIdentity(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		grammar string
		buf     []byte
	}{
		{"gif", fixtures.GIF(1, false)},
		{"gif", fixtures.GIF(-1, true)},
		{"gif", fixtures.GIF(7, true)},
		{"png", fixtures.PNG(nil)},
		{"png", fixtures.PNG(fixtures.Palette(12))},
		{"riff", fixtures.WAVE([]byte{1, 2, 3})},
		{"riff", fixtures.WAVE(nil)},
	}
	for _, tc := range cases {
		tr := decomposed(t, tc.grammar, tc.buf)
		out, err := Reconstruct(tr, nil)
		if err != nil {
			t.Fatalf("%s: reconstruct: %v", tc.grammar, err)
		}
		if err := validate.Compare(tc.buf, out); err != nil {
			t.Fatalf("%s: round trip: %v", tc.grammar, err)
		}
	}
}

func firstEntries(t *testing.T, tr *tree.Tree, path string, n int) pattern.Value {
	t.Helper()
	node, ok := tr.Find(path)
	if !ok {
		t.Fatalf("missing %s", path)
	}
	return pattern.Table(node.Value.Table[:n])
}

func TestGIFPaletteShrinkCascade(t *testing.T) {
	testlog.Start(t)
	tr := decomposed(t, "gif", fixtures.GIF(1, false))
	if err := tr.Set("gct", firstEntries(t, tr, "gct", 2)); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := Reconstruct(tr, nil)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	want := fixtures.GIF(0, false)
	if err := validate.Compare(want, out); err != nil {
		t.Fatalf("golden mismatch: %v", err)
	}
	if out[10] != 0x80 {
		t.Fatalf("expected packed byte 0x80, got %#x", out[10])
	}

	gct, _ := tr.Find("gct")
	if gct.Length != 12 || !tr.Edited() {
		t.Fatalf("expected input tree untouched, gct length %d", gct.Length)
	}
}

func TestPNGPaletteShrinkCascade(t *testing.T) {
	testlog.Start(t)
	tr := decomposed(t, "png", fixtures.PNG(fixtures.Palette(9)))
	if err := tr.Set("chunks.1.data.entries", firstEntries(t, tr, "chunks.1.data.entries", 2)); err != nil {
		t.Fatalf("set: %v", err)
	}
	applied, err := Apply(tr, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := fixtures.PNG(fixtures.Palette(6))
	if err := validate.Compare(want, applied.Bytes()); err != nil {
		t.Fatalf("golden mismatch: %v", err)
	}
	length, _ := applied.Find("chunks.1.length")
	if length.Value.Uint != 6 {
		t.Fatalf("expected length 6, got %d", length.Value.Uint)
	}
	chunk, _ := applied.Find("chunks.1")
	if l, _ := chunk.Value.Field(pattern.ChunkLength); l != 6 {
		t.Fatalf("expected revalidated chunk length 6, got %d", l)
	}
	if err := applied.Check(len(want)); err != nil {
		t.Fatalf("coverage after apply: %v", err)
	}
	if applied.Edited() {
		t.Fatalf("expected edit marks cleared")
	}

	again := decomposed(t, "png", applied.Bytes())
	if again.Root.Length != len(want) {
		t.Fatalf("expected rebuilt buffer to decompose, got length %d", again.Root.Length)
	}
}

func TestRIFFDataGrowthCascade(t *testing.T) {
	testlog.Start(t)
	tr := decomposed(t, "riff", fixtures.WAVE([]byte{1, 2, 3}))
	if err := tr.Set("body.chunks.1.data", pattern.Bytes([]byte{1, 2, 3, 4, 5})); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := Reconstruct(tr, nil)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if err := validate.Compare(fixtures.WAVE([]byte{1, 2, 3, 4, 5}), out); err != nil {
		t.Fatalf("golden mismatch: %v", err)
	}

	tr = decomposed(t, "riff", fixtures.WAVE([]byte{1, 2, 3}))
	if err := tr.Set("body.chunks.1.data", pattern.Bytes([]byte{9, 9, 9, 9})); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err = Reconstruct(tr, nil)
	if err != nil {
		t.Fatalf("reconstruct even: %v", err)
	}
	if err := validate.Compare(fixtures.WAVE([]byte{9, 9, 9, 9}), out); err != nil {
		t.Fatalf("golden mismatch after pad removal: %v", err)
	}
}

func TestPayloadEditRecomputesCRC(t *testing.T) {
	testlog.Start(t)
	buf := fixtures.PNG(nil)
	tr := decomposed(t, "png", buf)
	// IDAT payload edit at fixed length keeps every size but moves the CRC
	payload := bytes.Repeat([]byte{0x11}, 10)
	if err := tr.Set("chunks.1.data.payload", pattern.Bytes(payload)); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := Reconstruct(tr, nil)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	want := append([]byte(nil), fixtures.PNGSignature...)
	want = append(want, fixtures.IHDR(1, 1)...)
	want = append(want, fixtures.PNGChunk("IDAT", payload)...)
	want = append(want, fixtures.PNGChunk("IEND", nil)...)
	if err := validate.Compare(want, out); err != nil {
		t.Fatalf("golden mismatch: %v", err)
	}
}

func TestOutOfRangeEditFails(t *testing.T) {
	testlog.Start(t)
	buf := fixtures.GIF(1, true)
	tr := decomposed(t, "gif", buf)
	if err := tr.Set("blocks.0.label", pattern.Uint(300)); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, err := Reconstruct(tr, nil)
	var rerr *ReconstructionError
	if !errors.As(err, &rerr) || !errors.Is(err, pattern.ErrOutOfRange) {
		t.Fatalf("expected ReconstructionError wrapping ErrOutOfRange, got %v", err)
	}
	if rerr.Pattern != "blocks.0.label" || rerr.Offset != 26 {
		t.Fatalf("expected blocks.0.label @26, got %s @%d", rerr.Pattern, rerr.Offset)
	}
	if !bytes.Equal(tr.Bytes(), buf) {
		t.Fatalf("expected failed edit to leave tree bytes intact")
	}
}

func TestPaletteResizeMustBePowerOfTwo(t *testing.T) {
	testlog.Start(t)
	tr := decomposed(t, "gif", fixtures.GIF(1, false))
	if err := tr.Set("gct", firstEntries(t, tr, "gct", 3)); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, err := Apply(tr, nil)
	if !errors.Is(err, pattern.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange for 3 entries, got %v", err)
	}
}

func TestMissingParamsRejected(t *testing.T) {
	testlog.Start(t)
	tr := decomposed(t, "gif", fixtures.GIF(1, false))
	if err := tr.Set("gct", firstEntries(t, tr, "gct", 2)); err != nil {
		t.Fatalf("set: %v", err)
	}
	gct, _ := tr.Find("gct")
	gct.Params = nil
	_, err := Apply(tr, nil)
	var rerr *ReconstructionError
	if !errors.As(err, &rerr) || !errors.Is(err, pattern.ErrInvalidParams) {
		t.Fatalf("expected ReconstructionError wrapping ErrInvalidParams, got %v", err)
	}
	if rerr.Pattern != "gct" || rerr.Offset != 13 {
		t.Fatalf("expected gct @13, got %s @%d", rerr.Pattern, rerr.Offset)
	}
}

func TestSetRejectsComposite(t *testing.T) {
	testlog.Start(t)
	tr := decomposed(t, "gif", fixtures.GIF(0, false))
	if err := tr.Set("blocks", pattern.Uint(1)); !errors.Is(err, tree.ErrNotLeaf) {
		t.Fatalf("expected ErrNotLeaf, got %v", err)
	}
	if err := tr.Set("nope", pattern.Uint(1)); !errors.Is(err, tree.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// bcdKind stores 0..99 as one packed decimal byte.
type bcdKind struct{}

func (bcdKind) Tag() string { return "bcd" }

func (bcdKind) Size(pattern.Input) (int, error) { return 1, nil }

func (bcdKind) Decode(_ pattern.Input, raw []byte) (pattern.Value, error) {
	return pattern.Uint(uint64(raw[0]>>4)*10 + uint64(raw[0]&0x0f)), nil
}

func (bcdKind) Encode(_ *pattern.Params, v pattern.Value) ([]byte, error) {
	n, ok := v.Number()
	if !ok || n > 99 {
		return nil, fmt.Errorf("%w: %v is not a two-digit decimal", pattern.ErrOutOfRange, v)
	}
	return []byte{byte(n/10)<<4 | byte(n%10)}, nil
}

func TestCustomKindSizeCascade(t *testing.T) {
	testlog.Start(t)
	r := pattern.NewRegistry()
	if err := pattern.RegisterBuiltins(r); err != nil {
		t.Fatalf("builtins: %v", err)
	}
	if err := r.Register(bcdKind{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	g, err := grammar.New(grammar.Description{
		Name:  "bcd",
		Magic: "BC",
		Patterns: []grammar.Spec{
			{Name: "sig", Kind: pattern.KindMagic, Params: pattern.Params{Value: "BC"}},
			{Name: "n", Kind: "bcd"},
			{Name: "data", Kind: pattern.KindBytes, Params: pattern.Params{Length: "n"}},
		},
	}, r)
	if err != nil {
		t.Fatalf("grammar: %v", err)
	}
	src := []byte{'B', 'C', 0x02, 0x09, 0x09}
	tr, err := decompose.Decompose(g, src)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	n, ok := tr.Find("n")
	if !ok {
		t.Fatalf("missing n")
	}
	if v, _ := n.Value.Number(); v != 2 {
		t.Fatalf("expected n=2, got %v", n.Value)
	}
	same, err := Reconstruct(tr, r)
	if err != nil || !bytes.Equal(same, src) {
		t.Fatalf("expected identity round trip, err=%v", err)
	}

	payload := bytes.Repeat([]byte{0x5a}, 12)
	if err := tr.Set("data", pattern.Bytes(payload)); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := Reconstruct(tr, r)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	want := append([]byte{'B', 'C', 0x12}, payload...)
	if !bytes.Equal(out, want) {
		t.Fatalf("expected % x, got % x", want, out)
	}
	if _, err := decompose.Decompose(g, out); err != nil {
		t.Fatalf("re-decompose: %v", err)
	}

	if err := tr.Set("data", pattern.Bytes(make([]byte, 100))); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, err = Reconstruct(tr, r)
	var rerr *ReconstructionError
	if !errors.As(err, &rerr) || rerr.Pattern != "n" || !errors.Is(err, pattern.ErrOutOfRange) {
		t.Fatalf("expected out-of-range at n, got %v", err)
	}
}
