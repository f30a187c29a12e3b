package domain

import "regexp"

// Secret references use the {{SECRET:[store][key]}} token syntax. The token
// is opaque to this repo: it names a store and a key, and resolution happens
// at run time through a resolver, never at parse time.
var secretRefPattern = regexp.MustCompile(`^\{\{SECRET:\[([A-Za-z0-9_.-]+)\]\[([A-Za-z0-9_./-]+)\]\}\}$`)

// secretRefHint matches anything that looks like an attempted secret
// reference, so validation can flag malformed tokens instead of silently
// treating them as literals.
var secretRefHint = regexp.MustCompile(`\{\{\s*SECRET`)

// SecretRef identifies a secret by store and key.
type SecretRef struct {
	Store string
	Key   string
}

// String renders the reference back to its token form. The token carries no
// secret material, only the lookup coordinates.
func (r SecretRef) String() string {
	return "{{SECRET:[" + r.Store + "][" + r.Key + "]}}"
}

// ParseSecretRef parses a {{SECRET:[store][key]}} token. The second return
// is false when the value is not a well-formed reference.
func ParseSecretRef(value string) (SecretRef, bool) {
	m := secretRefPattern.FindStringSubmatch(value)
	if m == nil {
		return SecretRef{}, false
	}
	return SecretRef{Store: m[1], Key: m[2]}, true
}

// IsSecretRef reports whether the value is a well-formed secret reference.
func IsSecretRef(value string) bool {
	_, ok := ParseSecretRef(value)
	return ok
}

// LooksLikeSecretRef reports whether the value appears to be an attempted
// secret reference, well-formed or not.
func LooksLikeSecretRef(value string) bool {
	return secretRefHint.MatchString(value)
}
