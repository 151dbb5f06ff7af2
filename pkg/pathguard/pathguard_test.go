package pathguard

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveWithinAllowsNestedPaths(t *testing.T) {
	base := t.TempDir()

	resolved, err := ResolveWithin(base, "videos/2024/entry.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(base, "videos", "2024", "entry.mp4")
	if resolved != want {
		t.Fatalf("resolved to %s, want %s", resolved, want)
	}
}

func TestResolveWithinBlocksTraversal(t *testing.T) {
	base := t.TempDir()

	cases := []string{
		"../../etc/passwd",
		"videos/../../etc/passwd",
		"..",
		"/etc/passwd",
	}
	for _, candidate := range cases {
		if _, err := ResolveWithin(base, candidate); !errors.Is(err, ErrPathBlocked) {
			t.Fatalf("expected ErrPathBlocked for %q, got %v", candidate, err)
		}
	}
}

func TestResolveWithinRejectsSiblingDirectorySpoof(t *testing.T) {
	base := filepath.Join(t.TempDir(), "uploads")

	// A naive prefix check would accept "uploads2" as inside "uploads".
	if _, err := ResolveWithin(base, "../uploads2/file.bin"); !errors.Is(err, ErrPathBlocked) {
		t.Fatalf("expected ErrPathBlocked, got %v", err)
	}
}

func TestResolveWithinStripsNullBytes(t *testing.T) {
	base := t.TempDir()

	resolved, err := ResolveWithin(base, "videos/en\x00try.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(resolved, "\x00") {
		t.Fatal("resolved path still contains a null byte")
	}
}

func TestSanitizeFilenameRejectsHiddenAndDashNames(t *testing.T) {
	for _, name := range []string{".bashrc", "-rf", ".", "..", ""} {
		if _, err := SanitizeFilename(name); err == nil {
			t.Fatalf("expected rejection for %q", name)
		}
	}
}

func TestSanitizeFilenameTruncatesPreservingExtension(t *testing.T) {
	long := strings.Repeat("a", 300) + ".mp4"

	name, err := SanitizeFilename(long)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(name) > 255 {
		t.Fatalf("name still too long: %d", len(name))
	}
	if !strings.HasSuffix(name, ".mp4") {
		t.Fatalf("extension lost: %s", name)
	}
}

func TestSafeJoinSanitizesFinalElement(t *testing.T) {
	base := t.TempDir()

	if _, err := SafeJoin(base, "videos/.hidden"); err == nil {
		t.Fatal("expected hidden filename to be rejected")
	}

	resolved, err := SafeJoin(base, "videos/clip.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != filepath.Join(base, "videos", "clip.mp4") {
		t.Fatalf("unexpected resolved path: %s", resolved)
	}
}
