package labels

import "strings"

// Prefix is the owner marker shared by every tag and label key.
const Prefix = "lxc-compose"

// Container configuration keys. Runtimes only persist user.* keys verbatim.
const (
	// KeyManagedBy identifies the management system
	KeyManagedBy = "user." + Prefix + ".managed-by"

	// KeyComposeFile records the compose document a container was created from
	KeyComposeFile = "user." + Prefix + ".compose-file"

	// KeyTemplate records the base template, when one was used
	KeyTemplate = "user." + Prefix + ".template"
)

// ManagedBy value written to KeyManagedBy.
const ManagedBy = Prefix

// Tag returns the firewall comment tag for a container.
func Tag(container string) string {
	return Prefix + ":" + container
}

// ParseTag inspects a rule comment.
// managed is true for any comment written by lxc-compose, including legacy
// free-form comments such as "lxc-compose: web port 80". owner is only set
// for the exact "lxc-compose:<container>" form.
func ParseTag(comment string) (owner string, managed bool) {
	comment = strings.TrimSpace(comment)
	if !strings.HasPrefix(comment, Prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(comment, Prefix)
	if !strings.HasPrefix(rest, ":") {
		return "", true
	}
	rest = rest[1:]
	if rest == "" || strings.ContainsAny(rest, " \t") {
		return "", true
	}
	return rest, true
}

// LabelBuilder builds the user.* configuration keys for a container.
type LabelBuilder struct {
	labels map[string]string
}

// NewLabelBuilder creates a builder with the managed-by key pre-set.
func NewLabelBuilder() *LabelBuilder {
	return &LabelBuilder{
		labels: map[string]string{
			KeyManagedBy: ManagedBy,
		},
	}
}

// WithComposeFile records the compose document path. Empty paths are ignored.
func (lb *LabelBuilder) WithComposeFile(path string) *LabelBuilder {
	if path != "" {
		lb.labels[KeyComposeFile] = path
	}
	return lb
}

// WithTemplate records the base template. Empty names are ignored.
func (lb *LabelBuilder) WithTemplate(name string) *LabelBuilder {
	if name != "" {
		lb.labels[KeyTemplate] = name
	}
	return lb
}

// Build returns a copy of the labels map.
func (lb *LabelBuilder) Build() map[string]string {
	result := make(map[string]string, len(lb.labels))
	for k, v := range lb.labels {
		result[k] = v
	}
	return result
}

// IsManaged reports whether a container's configuration marks it as ours.
func IsManaged(config map[string]string) bool {
	return config[KeyManagedBy] == ManagedBy
}
