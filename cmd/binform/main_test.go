package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/binform/internal/testutil/fixtures"
	"github.com/danmuck/binform/internal/testutil/testlog"
	"github.com/danmuck/binform/internal/validate"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDecomposeText(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, t.TempDir(), "a.gif", fixtures.GIF(0, false))
	out, err := run(t, "decompose", path, "gif")
	if err != nil {
		t.Fatalf("decompose: %v", err)
	}
	for _, want := range []string{"gif (", `header [magic] @0 +6 = "GIF89a"`, "gct [palette] @13 +6", "trailer"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestDecomposeReconstructThroughTreeFile(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	src := fixtures.PNG(fixtures.Palette(12))
	input := writeFile(t, dir, "a.png", src)
	treePath := filepath.Join(dir, "a.bft")
	rebuilt := filepath.Join(dir, "b.png")

	for _, compress := range []string{"none", "zstd", "lz4"} {
		if _, err := run(t, "decompose", input, "png", "--format", "none", "--out", treePath, "--compress", compress); err != nil {
			t.Fatalf("%s: decompose: %v", compress, err)
		}
		if _, err := run(t, "reconstruct", treePath, "-o", rebuilt); err != nil {
			t.Fatalf("%s: reconstruct: %v", compress, err)
		}
		got, err := os.ReadFile(rebuilt)
		if err != nil {
			t.Fatalf("read rebuilt: %v", err)
		}
		if err := validate.Compare(src, got); err != nil {
			t.Fatalf("%s: round trip: %v", compress, err)
		}
	}

	out, err := run(t, "compare", input, rebuilt)
	if err != nil || !strings.Contains(out, "identical") {
		t.Fatalf("expected identical files, got %q, %v", out, err)
	}
}

func TestExitCodes(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	good := fixtures.GIF(1, true)
	bad := bytes.Clone(good)
	bad[len(bad)-1] = 0x00
	goodPath := writeFile(t, dir, "good.gif", good)
	badPath := writeFile(t, dir, "bad.gif", bad)

	if _, err := run(t, "decompose", goodPath, "jpeg"); exitCode(err) != exitGrammar {
		t.Fatalf("expected grammar exit code, got %d (%v)", exitCode(err), err)
	}
	if _, err := run(t, "decompose", badPath, "gif"); exitCode(err) != exitParse {
		t.Fatalf("expected parse exit code, got %d (%v)", exitCode(err), err)
	}
	_, err := run(t, "compare", goodPath, badPath)
	var m *validate.MismatchError
	if exitCode(err) != exitFailure || !errors.As(err, &m) || m.Offset != len(good)-1 {
		t.Fatalf("expected mismatch at the trailer, got %v", err)
	}
	if _, err := run(t, "compare", "--from", "100", goodPath, badPath); err != nil {
		t.Fatalf("expected window past both ends to pass, got %v", err)
	}

	out, err := run(t, "certify", "gif", goodPath, badPath)
	if exitCode(err) != exitParse {
		t.Fatalf("expected certify failure exit code, got %d (%v)", exitCode(err), err)
	}
	if !strings.Contains(out, "ok   "+goodPath) || !strings.Contains(out, "FAIL "+badPath) {
		t.Fatalf("unexpected certify output:\n%s", out)
	}
	if _, err := run(t, "certify", "gif", goodPath); err != nil {
		t.Fatalf("expected clean certify, got %v", err)
	}
}

func TestGrammarsAndConfig(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "binform.toml")
	if _, err := run(t, "config", "init", cfgPath); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := run(t, "config", "init", cfgPath); err == nil {
		t.Fatalf("expected init to refuse an existing file")
	}
	if out, err := run(t, "config", "validate", cfgPath); err != nil || !strings.Contains(out, "valid") {
		t.Fatalf("config validate: %q, %v", out, err)
	}

	out, err := run(t, "grammars", "--config", cfgPath)
	if err != nil {
		t.Fatalf("grammars: %v", err)
	}
	for _, name := range []string{"gif", "png", "riff"} {
		if !strings.Contains(out, name) {
			t.Fatalf("expected %s in grammar list:\n%s", name, out)
		}
	}

	writeFile(t, dir, "broken.toml", []byte("workers = 0\n"))
	if _, err := run(t, "grammars", "--config", filepath.Join(dir, "broken.toml")); err == nil {
		t.Fatalf("expected invalid config to fail")
	}
}
