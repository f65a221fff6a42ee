package handlers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/promised/agent/pkg/helper/protocol"
)

func TestFileWriteHandler_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.conf")

	h := &FileWriteHandler{}
	result, err := h.Handle(context.Background(), &protocol.FileWriteParams{
		Path:    path,
		Content: "managed = true\n",
		Create:  true,
		Mode:    "0644",
	}, nil)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !result.Created {
		t.Fatal("expected Created = true")
	}
	if result.BytesWritten != int64(len("managed = true\n")) {
		t.Fatalf("bytes written = %d", result.BytesWritten)
	}
	if result.Checksum == "" {
		t.Fatal("expected a checksum")
	}
}

func TestFileWriteHandler_RefusesMissingFileWithoutCreate(t *testing.T) {
	h := &FileWriteHandler{}
	_, err := h.Handle(context.Background(), &protocol.FileWriteParams{
		Path:    filepath.Join(t.TempDir(), "missing.conf"),
		Content: "x",
		Create:  false,
	}, nil)
	if err == nil {
		t.Fatal("expected error when file does not exist and create=false")
	}
}

func TestFileWriteHandler_BacksUpExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.conf")

	h := &FileWriteHandler{}
	if _, err := h.Handle(context.Background(), &protocol.FileWriteParams{
		Path: path, Content: "v1", Create: true,
	}, nil); err != nil {
		t.Fatalf("initial write: %v", err)
	}

	result, err := h.Handle(context.Background(), &protocol.FileWriteParams{
		Path: path, Content: "v2", Create: true, Backup: true,
	}, nil)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if result.BackupPath == "" {
		t.Fatal("expected a backup path")
	}
}

func TestFileReadHandler_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")

	writeH := &FileWriteHandler{}
	if _, err := writeH.Handle(context.Background(), &protocol.FileWriteParams{
		Path: path, Content: "hello world", Create: true,
	}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	readH := &FileReadHandler{}
	result, err := readH.Handle(context.Background(), &protocol.FileReadParams{Path: path}, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.Content != "hello world" {
		t.Fatalf("content = %q", result.Content)
	}
	if result.Truncated {
		t.Fatal("did not expect truncation")
	}
}

func TestFileReadHandler_Truncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.txt")

	writeH := &FileWriteHandler{}
	if _, err := writeH.Handle(context.Background(), &protocol.FileWriteParams{
		Path: path, Content: "0123456789", Create: true,
	}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	readH := &FileReadHandler{}
	result, err := readH.Handle(context.Background(), &protocol.FileReadParams{Path: path, MaxBytes: 4}, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected truncation")
	}
	if len(result.Content) != 4 {
		t.Fatalf("content length = %d, want 4", len(result.Content))
	}
}
