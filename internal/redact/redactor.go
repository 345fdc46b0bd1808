// Package redact deterministically anonymizes PII in JSON-shaped trees.
// The same input sequence always yields the same output, so references
// between redacted records survive (the third sighting of an email maps
// to the same user-N address everywhere).
package redact

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/doubleagent/harness/internal/resource"
)

// Category groups the field classes the redactor knows about.
type Category string

const (
	CategoryEmail  Category = "email"
	CategoryName   Category = "name"
	CategoryAvatar Category = "avatar"
	CategoryPhone  Category = "phone"
	CategorySecret Category = "secret"
)

// Strategy selects how a category is rewritten.
type Strategy string

const (
	// StrategyAnonymize substitutes stable synthetic values (user-N).
	StrategyAnonymize Strategy = "anonymize"
	// StrategyHash replaces the value with redacted-<sha1 prefix>.
	StrategyHash Strategy = "hash"
	// StrategyRemove drops the field entirely.
	StrategyRemove Strategy = "remove"
	// StrategyPlaceholder writes a fixed per-category placeholder.
	StrategyPlaceholder Strategy = "placeholder"
)

const (
	placeholderEmail  = "redacted@doubleagent.local"
	placeholderName   = "Redacted User"
	placeholderAvatar = "https://doubleagent.local/avatar.png"
)

// Rule is a user-provided regex rewrite, applied after the built-ins.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Policy selects a strategy per category and carries custom rules.
// An unset category defaults to StrategyAnonymize.
type Policy struct {
	Strategies map[Category]Strategy
	Rules      []Rule
}

func (p Policy) strategy(c Category) Strategy {
	if s, ok := p.Strategies[c]; ok {
		return s
	}
	return StrategyAnonymize
}

var (
	emailValueRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

	nameFields = map[string]struct{}{
		"first_name": {}, "last_name": {}, "full_name": {}, "display_name": {},
		"user_name": {}, "username": {}, "author_name": {}, "owner_name": {},
		"real_name": {}, "committer_name": {},
	}
	secretMarkers = []string{"token", "secret", "password", "apikey", "api_key"}
)

// Redactor holds the per-instance assignment tables that make output
// deterministic. One instance per pull.
type Redactor struct {
	policy     Policy
	emailTable map[string]string
	nameTable  map[string]string
	nextUser   int
	nextName   int
}

// New creates a redactor for one redaction pass.
func New(policy Policy) *Redactor {
	return &Redactor{
		policy:     policy,
		emailTable: make(map[string]string),
		nameTable:  make(map[string]string),
	}
}

// Resources redacts a list of resources in input order.
func (r *Redactor) Resources(items []resource.Resource) []resource.Resource {
	out := make([]resource.Resource, len(items))
	for i, item := range items {
		out[i] = resource.Resource(r.redactMap(map[string]interface{}(item)))
	}
	return out
}

// Streams redacts every record of every stream. Stream iteration is by
// the caller's map order; determinism within a stream is what matters
// for cross-references.
func (r *Redactor) Streams(streams map[string][]resource.Resource) map[string][]resource.Resource {
	out := make(map[string][]resource.Resource, len(streams))
	for name, items := range streams {
		out[name] = r.Resources(items)
	}
	return out
}

// Value redacts a single JSON-shaped value with no field-name context.
func (r *Redactor) Value(v interface{}) interface{} {
	return r.redactValue("", v)
}

func (r *Redactor) redactMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for field, v := range m {
		nv, keep := r.redactField(field, v)
		if keep {
			out[field] = nv
		}
	}
	return out
}

// redactField applies the field-name rules; keep=false means the field
// is dropped (StrategyRemove).
func (r *Redactor) redactField(field string, v interface{}) (interface{}, bool) {
	lower := strings.ToLower(field)

	if s, ok := v.(string); ok {
		switch {
		case isSecretField(lower):
			return r.apply(CategorySecret, s)
		case isEmailField(lower):
			return r.apply(CategoryEmail, s)
		case isNameField(lower):
			return r.apply(CategoryName, s)
		case isAvatarField(lower):
			return r.apply(CategoryAvatar, s)
		case isPhoneField(lower):
			return r.apply(CategoryPhone, s)
		}
	}
	return r.redactValue(lower, v), true
}

// redactValue recurses containers and applies value-shape rules plus the
// custom regex rules to leftover strings.
func (r *Redactor) redactValue(field string, v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return r.redactMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, el := range t {
			out[i] = r.redactValue(field, el)
		}
		return out
	case string:
		s := t
		if emailValueRe.MatchString(s) {
			ns, _ := r.apply(CategoryEmail, s)
			if repl, ok := ns.(string); ok {
				s = repl
			}
		}
		for _, rule := range r.policy.Rules {
			s = rule.Pattern.ReplaceAllString(s, rule.Replacement)
		}
		return s
	default:
		// Numbers, booleans and null pass through unchanged.
		return v
	}
}

func (r *Redactor) apply(c Category, value string) (interface{}, bool) {
	switch r.policy.strategy(c) {
	case StrategyRemove:
		return nil, false
	case StrategyHash:
		return hashValue(value), true
	case StrategyPlaceholder:
		return placeholderFor(c), true
	default:
		return r.anonymize(c, value), true
	}
}

func (r *Redactor) anonymize(c Category, value string) string {
	switch c {
	case CategoryEmail:
		if repl, ok := r.emailTable[value]; ok {
			return repl
		}
		r.nextUser++
		repl := fmt.Sprintf("user-%d@doubleagent.local", r.nextUser)
		r.emailTable[value] = repl
		return repl
	case CategoryName:
		if repl, ok := r.nameTable[value]; ok {
			return repl
		}
		r.nextName++
		repl := fmt.Sprintf("User %d", r.nextName)
		r.nameTable[value] = repl
		return repl
	case CategoryAvatar:
		return placeholderAvatar
	case CategoryPhone:
		return ""
	default:
		return hashValue(value)
	}
}

func placeholderFor(c Category) string {
	switch c {
	case CategoryEmail:
		return placeholderEmail
	case CategoryName:
		return placeholderName
	case CategoryAvatar:
		return placeholderAvatar
	default:
		return ""
	}
}

func hashValue(value string) string {
	sum := sha1.Sum([]byte(value))
	return "redacted-" + hex.EncodeToString(sum[:])[:10]
}

func isEmailField(field string) bool {
	return field == "email" || strings.HasSuffix(field, "_email") || strings.HasSuffix(field, "email_address")
}

func isNameField(field string) bool {
	_, ok := nameFields[field]
	return ok
}

func isAvatarField(field string) bool {
	return strings.Contains(field, "avatar") || strings.HasSuffix(field, "image_url") ||
		strings.HasSuffix(field, "photo_url") || strings.HasSuffix(field, "picture")
}

func isPhoneField(field string) bool {
	return strings.Contains(field, "phone")
}

func isSecretField(field string) bool {
	for _, marker := range secretMarkers {
		if strings.Contains(field, marker) {
			return true
		}
	}
	return false
}
