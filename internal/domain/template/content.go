package template

import (
	"regexp"
	"strings"
	"unicode"
)

// Patterns stripped from free text before it is persisted.
var (
	scriptBlockPattern = regexp.MustCompile(`(?is)<\s*script\b[^>]*>.*?<\s*/\s*script\s*>`)
	scriptTagPattern   = regexp.MustCompile(`(?i)<\s*/?\s*script\b[^>]*>?`)
	jsSchemePattern    = regexp.MustCompile(`(?i)javascript\s*:`)
	eventAttrPattern   = regexp.MustCompile(`(?i)(<[^>]*?)\s+on\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]*)`)
	commentPattern     = regexp.MustCompile(`(?s)<!--.*?-->`)
	openCommentPattern = regexp.MustCompile(`(?s)<!--.*$`)
)

// Sanitize removes script blocks, javascript: scheme fragments, inline event
// handler attributes, HTML comments and control characters (except \n, \r
// and \t), then trims surrounding whitespace. Removal repeats until the text
// stops changing, so Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(s string) string {
	for {
		next := sanitizeOnce(s)
		if next == s {
			return next
		}
		s = next
	}
}

func sanitizeOnce(s string) string {
	s = stripControl(s)
	s = scriptBlockPattern.ReplaceAllString(s, "")
	s = scriptTagPattern.ReplaceAllString(s, "")
	s = commentPattern.ReplaceAllString(s, "")
	s = openCommentPattern.ReplaceAllString(s, "")
	s = jsSchemePattern.ReplaceAllString(s, "")
	s = eventAttrPattern.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var medicalKeywords = []string{
	"patient", "diagnosis", "treatment", "assessment", "examination",
	"symptoms", "history", "plan", "findings", "recommendation",
	"vital", "medication", "procedure", "clinical", "medical",
}

// LooksMedical reports whether structure text resembles a medical report: it
// mentions a clinical keyword or carries markdown structure (#, a "- " list
// line or *). The result is advisory and never blocks a create.
func LooksMedical(structure string) bool {
	lower := strings.ToLower(structure)
	for _, kw := range medicalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if strings.ContainsAny(structure, "#*") {
		return true
	}
	for _, line := range strings.Split(structure, "\n") {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "- ") {
			return true
		}
	}
	return false
}

// ComposeInstruction builds the instruction text sent along with a chat
// request when a template is selected.
func ComposeInstruction(t Template) string {
	if t.Notes == "" {
		return t.Structure
	}
	return t.Structure + "\n\nAdditional guidance: " + t.Notes
}
