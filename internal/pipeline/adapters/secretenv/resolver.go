// Package secretenv resolves secret references from the process
// environment: {{SECRET:[store][key]}} reads the variable STORE__KEY with
// both parts upper-cased and non-alphanumerics mapped to underscores. It is
// the default resolver for local runs; a real secret backend implements the
// same port.
package secretenv

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/nathantilsley/pipeline-sentry/internal/pipeline/domain"
)

// Resolver implements app.SecretResolver against the environment.
type Resolver struct {
	// lookup is swappable for tests; defaults to os.LookupEnv.
	lookup func(string) (string, bool)
}

// New creates an environment-backed resolver.
func New() *Resolver {
	return &Resolver{lookup: os.LookupEnv}
}

// EnvName returns the environment variable a reference reads from.
func EnvName(ref domain.SecretRef) string {
	return sanitize(ref.Store) + "__" + sanitize(ref.Key)
}

// Resolve looks the reference up, returning a NotFoundError when the
// variable is unset so callers can distinguish configuration gaps.
func (r *Resolver) Resolve(_ context.Context, ref domain.SecretRef) (string, error) {
	lookup := r.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	name := EnvName(ref)
	value, ok := lookup(name)
	if !ok {
		return "", fmt.Errorf("reading %s: %w", name, domain.NewNotFoundError("secret", ref.String()))
	}
	return value, nil
}

func sanitize(part string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(part) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
