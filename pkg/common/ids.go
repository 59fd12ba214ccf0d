package common

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	entityPrefix       = "entity"
	relationshipPrefix = "rel"
	fragmentPrefix     = "fragment"
)

// NormalizeName folds a surface name into the canonical form used for ids:
// NFKC, lowercase, inner whitespace collapsed, surrounding punctuation
// trimmed.
func NormalizeName(name string) string {
	name = norm.NFKC.String(name)
	name = strings.ToLower(name)
	name = strings.Join(strings.Fields(name), " ")
	return strings.TrimFunc(name, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// NormalizeKind turns a free-form relationship label ("reports to",
// "Manager") into an upper snake case kind ("REPORTS_TO", "MANAGER").
func NormalizeKind(kind string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range norm.NFKC.String(strings.TrimSpace(kind)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToUpper(r))
		default:
			pendingSep = true
		}
	}
	if b.Len() == 0 {
		return "RELATED_TO"
	}
	return b.String()
}

// EntityID derives the stable id of an entity from its normalized name and
// type: "entity:" followed by base64url(sha256(canonical)[:12]).
func EntityID(name string, typ EntityType) string {
	return hashID(entityPrefix, string(typ), NormalizeName(name))
}

// RelationshipID derives a stable id from the identity tuple of an edge.
func RelationshipID(k RelationshipKey) string {
	return hashID(relationshipPrefix, k.Source, k.Target, k.Kind, string(k.Origin))
}

// FragmentID derives a stable id for a text span of a source.
func FragmentID(sourceID string, loc Locator, text string) string {
	return hashID(fragmentPrefix, sourceID, Provenance{SourceID: sourceID, Locator: loc}.Key(), text)
}

// IsEntityID reports whether id was produced by EntityID.
func IsEntityID(id string) bool {
	return strings.HasPrefix(id, entityPrefix+":")
}

// IsFragmentID reports whether id was produced by FragmentID.
func IsFragmentID(id string) bool {
	return strings.HasPrefix(id, fragmentPrefix+":")
}

func hashID(prefix string, parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return prefix + ":" + base64.RawURLEncoding.EncodeToString(sum[:12])
}
