package testing

import (
	"maps"
	"slices"

	"github.com/imamik/lxc-compose/internal/config"
)

// DocumentBuilder provides a fluent interface for constructing compose
// documents. Each method returns a new builder (immutable) for chaining.
type DocumentBuilder struct {
	doc config.Document
}

// NewDocumentBuilder creates an empty version-1 document.
func NewDocumentBuilder() *DocumentBuilder {
	return &DocumentBuilder{
		doc: config.Document{
			Version: "1",
			Env:     map[string]string{},
		},
	}
}

// WithDir sets the directory relative mount sources resolve against.
func (b *DocumentBuilder) WithDir(dir string) *DocumentBuilder {
	nb := b.clone()
	nb.doc.Dir = dir
	return nb
}

// WithContainer appends a container spec.
func (b *DocumentBuilder) WithContainer(spec config.ContainerSpec) *DocumentBuilder {
	nb := b.clone()
	nb.doc.Containers = append(nb.doc.Containers, spec)
	return nb
}

// WithImage appends a container based on an image.
func (b *DocumentBuilder) WithImage(name, image string, dependsOn ...string) *DocumentBuilder {
	return b.WithContainer(config.ContainerSpec{
		Name:      name,
		Image:     image,
		DependsOn: config.StringList(dependsOn),
	})
}

// WithTemplate appends a container based on a template with includes.
func (b *DocumentBuilder) WithTemplate(name, template string, includes ...string) *DocumentBuilder {
	return b.WithContainer(config.ContainerSpec{
		Name:     name,
		Template: template,
		Includes: config.StringList(includes),
	})
}

// Build returns the constructed document.
func (b *DocumentBuilder) Build() *config.Document {
	doc := b.clone().doc
	return &doc
}

func (b *DocumentBuilder) clone() *DocumentBuilder {
	doc := b.doc
	doc.Containers = slices.Clone(b.doc.Containers)
	doc.Env = maps.Clone(b.doc.Env)
	return &DocumentBuilder{doc: doc}
}
