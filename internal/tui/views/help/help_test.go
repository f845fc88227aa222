package help

import (
	"strings"
	"testing"
)

func TestRenderListsKeys(t *testing.T) {
	out := Render(80)
	for _, want := range []string{"space", "quality", "ctrl+c"} {
		if !strings.Contains(out, want) {
			t.Errorf("help should mention %q", want)
		}
	}
}
