package newsletter

import (
	"strings"
	"testing"
)

func TestCleanHTML_StripsChrome(t *testing.T) {
	html := `<html><head><title>Weekly</title><style>p{color:red}</style></head><body>
		<script>track()</script>
		<h1>This Week in Startups</h1>
		<p>Acme Robotics raised a $4M seed round.</p>
		<div class="subscribe-banner">Subscribe now!</div>
		<div class="footer-links">Unsubscribe | Manage preferences</div>
		<p>Fern launched their public beta.</p>
	</body></html>`

	text, err := CleanHTML(html)
	if err != nil {
		t.Fatalf("CleanHTML: %v", err)
	}

	if !strings.Contains(text, "Acme Robotics raised a $4M seed round.") {
		t.Errorf("body text missing:\n%s", text)
	}
	if !strings.Contains(text, "This Week in Startups") {
		t.Errorf("heading missing:\n%s", text)
	}
	if strings.Contains(text, "Subscribe now!") {
		t.Errorf("subscribe chrome not removed:\n%s", text)
	}
	if strings.Contains(text, "Unsubscribe") {
		t.Errorf("footer not removed:\n%s", text)
	}
	if strings.Contains(text, "track()") {
		t.Errorf("script content leaked:\n%s", text)
	}
	if strings.Contains(text, "color:red") {
		t.Errorf("style content leaked:\n%s", text)
	}
}

func TestCleanHTML_CollapsesWhitespace(t *testing.T) {
	html := `<p>  spaced    out

	text  </p>`

	text, err := CleanHTML(html)
	if err != nil {
		t.Fatalf("CleanHTML: %v", err)
	}
	if strings.Contains(text, "  ") {
		t.Errorf("whitespace not collapsed: %q", text)
	}
	if !strings.Contains(text, "spaced out") {
		t.Errorf("words lost: %q", text)
	}
}

func TestCleanHTML_FallsBackToDocumentText(t *testing.T) {
	// No block elements at all; the whole-document fallback should kick in.
	text, err := CleanHTML(`<span>just a bare span</span>`)
	if err != nil {
		t.Fatalf("CleanHTML: %v", err)
	}
	if !strings.Contains(text, "just a bare span") {
		t.Errorf("fallback text missing: %q", text)
	}
}

func TestCleanHTML_CapsLength(t *testing.T) {
	var b strings.Builder
	b.WriteString("<p>")
	for i := 0; i < 10_000; i++ {
		b.WriteString("lengthy ")
	}
	b.WriteString("</p>")

	text, err := CleanHTML(b.String())
	if err != nil {
		t.Fatalf("CleanHTML: %v", err)
	}
	if len(text) > maxTextLen {
		t.Errorf("len = %d, want at most %d", len(text), maxTextLen)
	}
}
