package failure

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKindMatchesThroughWrapping(t *testing.T) {
	base := New(KindArchiveNotFound, "get archive", "archive %q not found", "abc")
	wrapped := fmt.Errorf("api: %w", base)

	if !Is(wrapped, KindArchiveNotFound) {
		t.Fatalf("Is(wrapped, KindArchiveNotFound) = false")
	}
	if Is(wrapped, KindPermissionDenied) {
		t.Fatalf("Is(wrapped, KindPermissionDenied) = true")
	}
	if got := KindOf(wrapped); got != KindArchiveNotFound {
		t.Fatalf("KindOf() = %q, want %q", got, KindArchiveNotFound)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(KindArtifactMissing, "open artifact", os.ErrNotExist)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("wrapped error lost its cause: %v", err)
	}
	if !errors.Is(err, KindArtifactMissing) {
		t.Fatalf("wrapped error lost its kind: %v", err)
	}
	if Wrap(KindArtifactMissing, "noop", nil) != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(KindNoToolsSpecified, "start archive", "no tools specified")
	if got, want := err.Error(), "start archive: no tools specified"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("plain error should have no kind")
	}
}
