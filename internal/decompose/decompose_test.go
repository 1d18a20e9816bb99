package decompose

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/binform/internal/grammar"
	"github.com/danmuck/binform/internal/pattern"
	"github.com/danmuck/binform/internal/testutil/fixtures"
	"github.com/danmuck/binform/internal/testutil/testlog"
	"github.com/danmuck/binform/internal/tree"
	"github.com/google/go-cmp/cmp"
)

func builtin(t *testing.T, name string) *grammar.Grammar {
	t.Helper()
	g, err := grammar.Builtin(name, nil)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return g
}

func expectParseError(t *testing.T, err error, target error) *ParseError {
	t.Helper()
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %T: %v", err, err)
	}
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
	return perr
}

func TestGIFScenario(t *testing.T) {
	testlog.Start(t)
	buf := fixtures.GIF(1, false)
	tr, err := Decompose(builtin(t, "gif"), buf)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	top := tr.Root.Children
	if len(top) != 4 {
		t.Fatalf("expected 4 top-level nodes, got %d", len(top))
	}
	names := []string{top[0].Name, top[1].Name, top[2].Name, top[3].Name}
	if diff := cmp.Diff([]string{"header", "screen", "gct", "blocks"}, names); diff != "" {
		t.Fatalf("top-level mismatch (-want +got):\n%s", diff)
	}
	sum := 0
	for _, n := range top {
		sum += n.Length
	}
	if sum != len(buf) {
		t.Fatalf("expected spans to sum to %d, got %d", len(buf), sum)
	}
	if top[2].Length != 12 || len(top[2].Value.Table) != 4 {
		t.Fatalf("expected 12-byte table with 4 entries, got %d bytes / %d entries", top[2].Length, len(top[2].Value.Table))
	}
	blocks := top[3].Children
	if len(blocks) != 2 || blocks[1].Name != "trailer" || blocks[1].Length != 1 {
		t.Fatalf("expected image block then trailer, got %d children", len(blocks))
	}
	if !bytes.Equal(tr.Bytes(), buf) {
		t.Fatalf("identity bytes differ")
	}
	if err := tr.Check(len(buf)); err != nil {
		t.Fatalf("coverage: %v", err)
	}
}

func TestOptionalTableToggling(t *testing.T) {
	testlog.Start(t)
	g := builtin(t, "gif")
	tr, err := Decompose(g, fixtures.GIF(-1, true))
	if err != nil {
		t.Fatalf("decompose without table: %v", err)
	}
	gct, _ := tr.Find("gct")
	if gct.Length != 0 || gct.Offset != 13 {
		t.Fatalf("expected empty gct at offset 13, got @%d+%d", gct.Offset, gct.Length)
	}
	tr, err = Decompose(g, fixtures.GIF(2, true))
	if err != nil {
		t.Fatalf("decompose with table: %v", err)
	}
	gct, _ = tr.Find("gct")
	if gct.Length != 24 {
		t.Fatalf("expected 3*2^3=24 bytes, got %d", gct.Length)
	}
	if gct.SizeRef == nil || gct.SizeRef.Path != "screen" || gct.SizeRef.Field != "gct_size" {
		t.Fatalf("expected size link to screen.gct_size, got %+v", gct.SizeRef)
	}
	label, ok := tr.Find("blocks.0.label")
	if !ok || label.Value.Uint != 0xf9 {
		t.Fatalf("expected graphic control label, got %+v", label)
	}
}

func TestPNGChunksAndLinks(t *testing.T) {
	testlog.Start(t)
	buf := fixtures.PNG(fixtures.Palette(6))
	tr, err := Decompose(builtin(t, "png"), buf)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	chunks, _ := tr.Find("chunks")
	if len(chunks.Children) != 4 {
		t.Fatalf("expected IHDR, PLTE, IDAT, IEND; got %d chunks", len(chunks.Children))
	}
	width, ok := tr.Find("chunks.0.data.header")
	if !ok {
		t.Fatalf("expected IHDR header node")
	}
	if w, _ := width.Value.Field("width"); w != 1 {
		t.Fatalf("expected width 1, got %d", w)
	}
	entries, ok := tr.Find("chunks.1.data.entries")
	if !ok || entries.Length != 6 {
		t.Fatalf("expected 6-byte PLTE entries, got %+v", entries)
	}
	if entries.SizeRef == nil || entries.SizeRef.Path != "chunks.1.length" {
		t.Fatalf("expected link to chunks.1.length, got %+v", entries.SizeRef)
	}
	crc, _ := tr.Find("chunks.1.crc")
	if diff := cmp.Diff([]string{"chunks.1.type", "chunks.1.data"}, crc.Covers); diff != "" {
		t.Fatalf("crc coverage mismatch (-want +got):\n%s", diff)
	}
	if chunks.Children[1].Value.Text != "PLTE" {
		t.Fatalf("expected chunk value tag PLTE, got %q", chunks.Children[1].Value.Text)
	}
	if err := tr.Check(len(buf)); err != nil {
		t.Fatalf("coverage: %v", err)
	}
}

func TestChecksumFailureAtChunkOffset(t *testing.T) {
	testlog.Start(t)
	buf := fixtures.PNG(fixtures.Palette(6))
	// signature 8 + IHDR 25 + PLTE 18; IDAT payload starts 8 bytes in
	const idat = 8 + 25 + 18
	for _, off := range []int{idat + 8, idat + 12, idat + 17} {
		corrupt := bytes.Clone(buf)
		corrupt[off] ^= 0x40
		_, err := Decompose(builtin(t, "png"), corrupt)
		perr := expectParseError(t, err, pattern.ErrChecksumMismatch)
		if perr.Offset != idat || perr.Pattern != "chunks.2" {
			t.Fatalf("expected failure at chunks.2 @%d, got %s @%d", idat, perr.Pattern, perr.Offset)
		}
	}
}

func TestMagicMismatch(t *testing.T) {
	testlog.Start(t)
	_, err := Decompose(builtin(t, "gif"), []byte("PNG89a...."))
	perr := expectParseError(t, err, pattern.ErrMagicMismatch)
	if perr.Pattern != "header" || perr.Offset != 0 {
		t.Fatalf("expected header @0, got %s @%d", perr.Pattern, perr.Offset)
	}
}

func TestTruncatedTable(t *testing.T) {
	testlog.Start(t)
	buf := fixtures.GIF(1, false)[:20]
	_, err := Decompose(builtin(t, "gif"), buf)
	perr := expectParseError(t, err, pattern.ErrTruncated)
	if perr.Pattern != "gct" || perr.Offset != 13 {
		t.Fatalf("expected gct @13, got %s @%d", perr.Pattern, perr.Offset)
	}
}

func TestMissingTerminator(t *testing.T) {
	testlog.Start(t)
	buf := fixtures.GIF(1, false)
	_, err := Decompose(builtin(t, "gif"), buf[:len(buf)-1])
	perr := expectParseError(t, err, pattern.ErrMissingTerminator)
	if perr.Pattern != "blocks" || perr.Offset != len(buf)-1 {
		t.Fatalf("expected blocks @%d, got %s @%d", len(buf)-1, perr.Pattern, perr.Offset)
	}
}

func TestUnknownBlockHasNoCase(t *testing.T) {
	testlog.Start(t)
	buf := fixtures.GIF(1, false)
	buf[25] = 0x99
	_, err := Decompose(builtin(t, "gif"), buf)
	perr := expectParseError(t, err, pattern.ErrNoCase)
	if perr.Pattern != "blocks.0" || perr.Offset != 25 {
		t.Fatalf("expected blocks.0 @25, got %s @%d", perr.Pattern, perr.Offset)
	}
}

func TestTrailingDataPolicy(t *testing.T) {
	testlog.Start(t)
	buf := append(fixtures.GIF(0, false), 0xde, 0xad)
	_, err := Decompose(builtin(t, "gif"), buf)
	perr := expectParseError(t, err, pattern.ErrTrailingData)
	if perr.Offset != len(buf)-2 {
		t.Fatalf("expected trailing data at %d, got %d", len(buf)-2, perr.Offset)
	}

	g, err := grammar.New(grammar.Description{
		Name:          "lenient",
		Magic:         "AB",
		AllowTrailing: true,
		Patterns: []grammar.Spec{
			{Name: "magic", Kind: pattern.KindMagic, Params: pattern.Params{Value: "AB"}},
		},
	}, nil)
	if err != nil {
		t.Fatalf("grammar: %v", err)
	}
	tr, err := Decompose(g, []byte("ABxyz"))
	if err != nil {
		t.Fatalf("decompose lenient: %v", err)
	}
	trailing := tr.Root.Child(TrailingName)
	if trailing == nil || !trailing.Padding || trailing.Params == nil || string(trailing.Raw) != "xyz" {
		t.Fatalf("expected padding node over xyz, got %+v", trailing)
	}
	if err := tr.Check(5); err != nil {
		t.Fatalf("coverage: %v", err)
	}
}

func TestRIFFAlignmentAndUntilEnd(t *testing.T) {
	testlog.Start(t)
	buf := fixtures.WAVE([]byte{1, 2, 3})
	tr, err := Decompose(builtin(t, "riff"), buf)
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	chunks, _ := tr.Find("body.chunks")
	if len(chunks.Children) != 2 {
		t.Fatalf("expected fmt and data chunks, got %d", len(chunks.Children))
	}
	pad, _ := tr.Find("body.chunks.1.pad")
	if !pad.Padding || pad.Length != 1 {
		t.Fatalf("expected one pad byte after odd data, got %+v", pad)
	}
	fmtPad, _ := tr.Find("body.chunks.0.pad")
	if fmtPad.Length != 0 {
		t.Fatalf("expected no pad after even fmt chunk, got %d", fmtPad.Length)
	}
	body, _ := tr.Find("body")
	if body.SizeRef == nil || body.SizeRef.Path != "size" {
		t.Fatalf("expected body linked to size, got %+v", body.SizeRef)
	}
	if !bytes.Equal(tr.Bytes(), buf) {
		t.Fatalf("identity bytes differ")
	}
}

func TestDeterministic(t *testing.T) {
	testlog.Start(t)
	g := builtin(t, "png")
	buf := fixtures.PNG(fixtures.Palette(9))
	a, err := Decompose(g, buf)
	if err != nil {
		t.Fatalf("first decompose: %v", err)
	}
	b, err := Decompose(g, buf)
	if err != nil {
		t.Fatalf("second decompose: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("decompositions differ (-a +b):\n%s", diff)
	}
}

func TestLimits(t *testing.T) {
	testlog.Start(t)
	g := builtin(t, "gif")
	buf := fixtures.GIF(0, true)
	_, err := Decompose(g, buf, WithLimits(Limits{MaxRepeat: 1}))
	expectParseError(t, err, pattern.ErrLimit)

	_, err = Decompose(g, buf, WithLimits(Limits{MaxInputBytes: 8}))
	expectParseError(t, err, pattern.ErrLimit)

	_, err = Decompose(g, buf, WithLimits(Limits{MaxDepth: 1}))
	expectParseError(t, err, pattern.ErrLimit)
}

func TestScopeFieldLookup(t *testing.T) {
	testlog.Start(t)
	outer := newScope(nil)
	outer.names["screen"] = &tree.Node{Path: "screen", Value: pattern.Fields(pattern.FieldValue{Name: "gct_size", Value: 3})}
	inner := newScope(outer)
	inner.names["n"] = &tree.Node{Path: "blocks.0.n", Value: pattern.Uint(7), Raw: []byte{7}}

	if v, ok := inner.Lookup("screen.gct_size"); !ok || v.Uint != 3 {
		t.Fatalf("expected inner scope to see outer field, got %v ok=%v", v, ok)
	}
	if _, ok := outer.Lookup("n"); ok {
		t.Fatalf("expected outer scope not to see inner field")
	}
	if raw, ok := inner.Raw("n"); !ok || !bytes.Equal(raw, []byte{7}) {
		t.Fatalf("expected raw bytes of n, got %x ok=%v", raw, ok)
	}
	if _, ok := inner.Lookup("screen.missing"); ok {
		t.Fatalf("expected unknown field to miss")
	}
}
