package vmr

import (
	"strings"
	"testing"
)

func TestComputeDiffReportsChangedKeyAndPatch(t *testing.T) {
	d := ComputeDiff("k", []byte("the cat sat"), []byte("the cat ran"))
	if d.Key != "k" {
		t.Errorf("Key = %q, want k", d.Key)
	}
	if d.Patch == "" {
		t.Error("Patch should be non-empty for differing content")
	}
}

func TestComputeDiffIdenticalContentHasNoInsertOrDelete(t *testing.T) {
	d := ComputeDiff("k", []byte("same"), []byte("same"))
	if strings.Contains(d.Patch, "<ins>") || strings.Contains(d.Patch, "<del>") {
		t.Errorf("Patch for identical content should carry no insert/delete markers, got %q", d.Patch)
	}
}
