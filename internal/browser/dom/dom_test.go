package dom

import (
	"strings"
	"testing"
)

func TestClickScriptQuotesSelector(t *testing.T) {
	t.Parallel()

	got := ClickScript(`button[data-x="y"]`)
	if !strings.Contains(got, `document.querySelector("button[data-x=\"y\"]")`) {
		t.Fatalf("selector not quoted: %s", got)
	}
	if !strings.HasPrefix(got, "(() =>") || !strings.HasSuffix(got, ")()") {
		t.Fatalf("expected invoked arrow function, got %s", got)
	}
}

func TestAsFunc(t *testing.T) {
	t.Parallel()

	if got := AsFunc("1 + 1"); got != "() => (1 + 1)" {
		t.Fatalf("unexpected wrapper %q", got)
	}
}
