package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMoveSpoolFile_EmptyDirErrors(t *testing.T) {
	if _, err := moveSpoolFile("x", " "); err == nil {
		t.Fatalf("expected error for empty destination")
	}
}

func TestMoveSpoolFile_CreatesDir(t *testing.T) {
	tmp := t.TempDir()
	src := writeSpoolFile(t, tmp, "a.jsonl", "payload")
	dst, err := moveSpoolFile(src, filepath.Join(tmp, "done", "2025"))
	if err != nil {
		t.Fatal(err)
	}
	if dst != filepath.Join(tmp, "done", "2025", "a.jsonl") {
		t.Fatalf("unexpected destination %q", dst)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("expected source removed: %v", err)
	}
}

func TestMoveSpoolFile_AvoidsNameCollision(t *testing.T) {
	tmp := t.TempDir()
	dstDir := filepath.Join(tmp, "dst")
	writeSpoolFile(t, dstDir, "a.jsonl", "existing")
	src := writeSpoolFile(t, filepath.Join(tmp, "src"), "a.jsonl", "payload")

	dst, err := moveSpoolFile(src, dstDir)
	if err != nil {
		t.Fatal(err)
	}
	base := filepath.Base(dst)
	if base == "a.jsonl" || !strings.HasPrefix(base, "a-") || filepath.Ext(base) != ".jsonl" {
		t.Fatalf("expected collision-avoiding filename, got %q", dst)
	}
	b, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "payload" {
		t.Fatalf("unexpected content: %q", b)
	}
	b, _ = os.ReadFile(filepath.Join(dstDir, "a.jsonl"))
	if string(b) != "existing" {
		t.Fatalf("existing file was overwritten")
	}
}

func TestCopyFile(t *testing.T) {
	tmp := t.TempDir()
	src := writeSpoolFile(t, tmp, "src.txt", "hello")
	dst := filepath.Join(tmp, "dst.txt")
	if err := copyFile(src, dst); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(dst)
	if err != nil || string(b) != "hello" {
		t.Fatalf("copy: %q %v", b, err)
	}
}
