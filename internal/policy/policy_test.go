package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRedactsContactDetails(t *testing.T) {
	p := Default()
	text, res := p.Apply("Reach Dana at dana.lee@globex.com or 555-123-4567 after the call.")
	if strings.Contains(text, "globex.com") || strings.Contains(text, "4567") {
		t.Fatalf("expected contact details redacted: %q", text)
	}
	if len(res.RedactionsApplied) != 2 {
		t.Fatalf("expected 2 patterns applied, got %v", res.RedactionsApplied)
	}
	if !strings.Contains(text, "[REDACTED]") {
		t.Fatalf("expected default replacement: %q", text)
	}
}

func TestApplyLeavesCleanTextAlone(t *testing.T) {
	p := Default()
	in := "Budget approved for Q3, pilot with 40 seats."
	out, res := p.Apply(in)
	if out != in || len(res.RedactionsApplied) != 0 || res.Truncated {
		t.Fatalf("unexpected change %q %+v", out, res)
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.yaml")
	data := []byte(`
id: strict
name: Strict archive
version: 2
redactions:
  patterns: ["(?i)acme"]
  replacement: "<customer>"
max_text_length_chars: 12
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, res := p.Apply("ACME wants a discount on renewal")
	if out != "<customer> w" || !res.Truncated {
		t.Fatalf("unexpected output %q %+v", out, res)
	}
}

func TestLoadRejectsBadPattern(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("id: bad\nredactions:\n  patterns: [\"(unclosed\"]\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected compile error")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected missing path error")
	}
}
