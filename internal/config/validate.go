package config

import (
	"errors"
	"regexp"
)

// containerNameRegex matches names the runtime accepts as instance and host names.
var containerNameRegex = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// Validate checks per-container structure. Reference resolution (templates,
// includes, dependency order) happens later, but still before side effects.
func (d *Document) Validate() error {
	var errs []error
	for _, c := range d.Containers {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks a single container spec.
func (c *ContainerSpec) Validate() error {
	if !containerNameRegex.MatchString(c.Name) {
		return newError(InvalidField, c.Name, "name", "must be 1-63 alphanumeric characters or hyphens")
	}
	if c.Template != "" && c.Image != "" {
		return newError(ConflictingBase, c.Name, "template", "template %q and image %q are mutually exclusive", c.Template, c.Image)
	}
	for _, inc := range c.Includes {
		if inc == "" {
			return newError(InvalidField, c.Name, "includes", "include names must not be empty")
		}
	}
	for _, dep := range c.DependsOn {
		if dep == c.Name {
			return newError(CircularDependency, c.Name, "depends_on", "%s depends on itself", c.Name)
		}
	}
	for _, m := range c.Mounts {
		if len(m.Target) == 0 || m.Target[0] != '/' {
			return newError(InvalidField, c.Name, "mounts", "target %q must be an absolute path", m.Target)
		}
	}
	return nil
}
