package domain

// Revision is a material's resolved commit identifier. Revisions are
// injected by the engine at run time; the declaration never contains one.
type Revision string

// Short returns the abbreviated form used in logs and release names.
func (r Revision) Short() string {
	if len(r) <= 12 {
		return string(r)
	}
	return string(r[:12])
}

// ImageRef builds the fully qualified container image reference for a
// repository at a revision, e.g.
// us-central1-docker.pkg.dev/sentryio/relay/relay:<revision>.
func ImageRef(repository string, rev Revision) string {
	return repository + ":" + string(rev)
}
