package version

import (
	"strings"
	"testing"
)

func TestStrings(t *testing.T) {
	if got := UserAgent(); got != "noto/"+Version {
		t.Fatalf("UserAgent() = %q", got)
	}
	if got := String(); !strings.HasPrefix(got, "noto "+Version+" (") {
		t.Fatalf("String() = %q", got)
	}
}
