package config

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// Diff computes a unified diff between the canonical renders of two
// declarations. Rendering first means formatting-only edits (key order,
// quoting, indentation) produce an empty diff.
func Diff(aName, bName string, a, b *Document) (string, error) {
	aYAML, err := Render(a)
	if err != nil {
		return "", fmt.Errorf("rendering %s: %w", aName, err)
	}
	bYAML, err := Render(b)
	if err != nil {
		return "", fmt.Errorf("rendering %s: %w", bName, err)
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(aYAML)),
		B:        difflib.SplitLines(string(bYAML)),
		FromFile: aName,
		ToFile:   bName,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("computing diff: %w", err)
	}
	return text, nil
}
