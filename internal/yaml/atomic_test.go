package yaml

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	SchemaVersion int    `yaml:"schema_version"`
	FileType      string `yaml:"file_type"`
	Value         string `yaml:"value"`
}

func TestAtomicWrite_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.yaml")

	if err := AtomicWrite(path, sample{SchemaVersion: 1, FileType: FileTypeLastResult, Value: "a"}); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(content), "value: a") {
		t.Errorf("unexpected content: %s", content)
	}
}

func TestAtomicWrite_CreatesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")

	if err := AtomicWrite(path, sample{Value: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWrite(path, sample{Value: "second"}); err != nil {
		t.Fatal(err)
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if !strings.Contains(string(bak), "first") {
		t.Errorf("backup should hold previous content, got %s", bak)
	}
}

func TestAtomicWriteRaw_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")

	if err := AtomicWriteRaw(path, []byte("key: [\n")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("target must not be created for invalid content")
	}
}

func TestAtomicWrite_NoTempFileLeft(t *testing.T) {
	dir := t.TempDir()
	if err := AtomicWrite(filepath.Join(dir, "out.yaml"), sample{Value: "x"}); err != nil {
		t.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".restfile-tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestReadTyped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := AtomicWrite(path, sample{SchemaVersion: 1, FileType: FileTypeLastResult, Value: "v"}); err != nil {
		t.Fatal(err)
	}

	var got sample
	if err := ReadTyped(path, FileTypeLastResult, &got); err != nil {
		t.Fatalf("ReadTyped failed: %v", err)
	}
	if got.Value != "v" {
		t.Errorf("Value = %q, want v", got.Value)
	}
}

func TestReadTyped_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	os.WriteFile(path, []byte("schema_version: 1\nfile_type: other\n"), 0644)

	var got sample
	err := ReadTyped(path, FileTypeLastResult, &got)
	var ce *CorruptFileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CorruptFileError, got %v", err)
	}
	if ce.Path != path {
		t.Errorf("Path = %q, want %q", ce.Path, path)
	}
}

func TestReadTyped_Missing(t *testing.T) {
	var got sample
	err := ReadTyped(filepath.Join(t.TempDir(), "missing.yaml"), FileTypeLastResult, &got)
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
