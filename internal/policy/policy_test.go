package policy

import (
	"strings"
	"testing"
)

func TestPromptContainsKeyConstraints(t *testing.T) {
	p := strings.ToLower(BuildSystemPrompt("en"))

	for _, want := range []string{
		"factual",
		"do not provide medical advice",
		"tools",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestLocaleRule(t *testing.T) {
	cases := map[string]string{
		"he":  "Reply in Hebrew.",
		"HE ": "Reply in Hebrew.",
		"en":  "Reply in English.",
		"":    "Reply in Hebrew if the user writes in Hebrew",
		"fr":  "Reply in Hebrew if the user writes in Hebrew",
	}
	for hint, want := range cases {
		if p := BuildSystemPrompt(hint); !strings.Contains(p, want) {
			t.Errorf("BuildSystemPrompt(%q) missing %q", hint, want)
		}
	}
}
