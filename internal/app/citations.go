package app

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"tutorhub/pkg/domain"
	"tutorhub/pkg/store"
)

// citationPattern matches provider file-search citation tokens of the form
// 【8:0+notes.pdf】.
var citationPattern = regexp.MustCompile(`【\d+:\d+\+([^】]+)】`)

// documentLookup is the subset of the store the rewriter needs.
type documentLookup interface {
	FindDocumentByFilename(filename string) (domain.Document, bool, error)
	FindDocumentByFilenameStem(stem string) (domain.Document, bool, error)
	FindDocumentByStorageKeyContains(fragment string) (domain.Document, bool, error)
}

var _ documentLookup = (store.Store)(nil)

// RewriteCitations replaces provider citation tokens with readable document
// references. Text without tokens passes through untouched, and a failed
// lookup for one filename never blocks rewriting the others.
func RewriteCitations(text string, lookup documentLookup) string {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text
	}

	// Resolve each distinct filename once; tokens citing different chunks of
	// the same file collapse to the same replacement.
	replacements := make(map[string]string)
	for _, m := range matches {
		filename := m[1]
		if _, done := replacements[filename]; done {
			continue
		}
		replacements[filename] = citationReplacement(filename, lookup)
	}

	return citationPattern.ReplaceAllStringFunc(text, func(token string) string {
		m := citationPattern.FindStringSubmatch(token)
		if len(m) != 2 {
			return token
		}
		return replacements[m[1]]
	})
}

func citationReplacement(filename string, lookup documentLookup) string {
	stem := filenameStem(filename)
	doc, ok := resolveCitedDocument(filename, stem, lookup)
	if !ok {
		return fmt.Sprintf("[Document: %q]", stem)
	}
	title := doc.Title
	if title == "" {
		title = stem
	}
	return fmt.Sprintf("[Document: %q]", title)
}

// resolveCitedDocument tries exact filename, then stem, then storage-key
// containment.
func resolveCitedDocument(filename, stem string, lookup documentLookup) (domain.Document, bool) {
	doc, ok, err := lookup.FindDocumentByFilename(filename)
	if err != nil {
		slog.Warn("citation lookup by filename failed", "filename", filename, "error", err)
	} else if ok {
		return doc, true
	}
	doc, ok, err = lookup.FindDocumentByFilenameStem(stem)
	if err != nil {
		slog.Warn("citation lookup by stem failed", "stem", stem, "error", err)
	} else if ok {
		return doc, true
	}
	doc, ok, err = lookup.FindDocumentByStorageKeyContains(stem)
	if err != nil {
		slog.Warn("citation lookup by storage key failed", "stem", stem, "error", err)
	} else if ok {
		return doc, true
	}
	return domain.Document{}, false
}

func filenameStem(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx > 0 {
		return filename[:idx]
	}
	return filename
}
