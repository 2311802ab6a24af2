package smb

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sly67/blobd/internal/storage"
)

// --- Tests ---

func TestNewRequiresMountPath(t *testing.T) {
	_, err := New(Config{Server: "//nas/blobd"})
	if err == nil {
		t.Fatal("expected error for missing mount path")
	}
	var serr *storage.Error
	if !errors.As(err, &serr) || serr.Kind != storage.KindConfig {
		t.Errorf("expected KindConfig, got %v", err)
	}
}

func TestDelegatesToMount(t *testing.T) {
	b, err := New(Config{Server: "//nas/blobd", MountPath: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if b.Type() != "smb" {
		t.Errorf("Type() = %q", b.Type())
	}

	ctx := context.Background()
	if _, err := b.Put(ctx, "s/b/r/f.txt", strings.NewReader("on the share"), 12, "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	content, err := b.Open(ctx, "s/b/r/f.txt", storage.Conditional{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer content.Body.Close()

	body, _ := io.ReadAll(content.Body)
	if string(body) != "on the share" {
		t.Errorf("got %q", body)
	}
}
