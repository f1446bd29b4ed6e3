package mcpservice

import (
	"context"
	"fmt"

	"github.com/ggoodman/salon-mcp/mcp"
)

// ResourceReader produces the text of a resource at read time.
type ResourceReader func(ctx context.Context) (string, error)

// StaticResource pairs a resource descriptor with its reader.
type StaticResource struct {
	Descriptor mcp.Resource
	Read       ResourceReader
}

// ResourcesContainer owns a fixed set of readable resources. List order is
// registration order.
type ResourcesContainer struct {
	resources []mcp.Resource
	readers   map[string]ResourceReader // uri -> reader
}

// NewResourcesContainer constructs a ResourcesContainer. It panics on
// duplicate or empty URIs.
func NewResourcesContainer(defs ...StaticResource) *ResourcesContainer {
	rc := &ResourcesContainer{readers: make(map[string]ResourceReader, len(defs))}
	for _, d := range defs {
		uri := d.Descriptor.URI
		if uri == "" || d.Read == nil {
			panic(fmt.Sprintf("mcpservice: incomplete resource %q", uri))
		}
		if _, dup := rc.readers[uri]; dup {
			panic(fmt.Sprintf("mcpservice: duplicate resource %q", uri))
		}
		rc.readers[uri] = d.Read
		rc.resources = append(rc.resources, d.Descriptor)
	}
	return rc
}

// ListResources returns a copy of the resource descriptors.
func (rc *ResourcesContainer) ListResources() []mcp.Resource {
	out := make([]mcp.Resource, len(rc.resources))
	copy(out, rc.resources)
	return out
}

// HasResource reports whether uri is registered.
func (rc *ResourcesContainer) HasResource(uri string) bool {
	_, ok := rc.readers[uri]
	return ok
}

// ReadResource returns the contents of uri. It returns ErrNotFound for
// unknown URIs.
func (rc *ResourcesContainer) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	read, ok := rc.readers[uri]
	if !ok {
		return nil, fmt.Errorf("resource %q: %w", uri, ErrNotFound)
	}
	text, err := read(ctx)
	if err != nil {
		return nil, err
	}
	var mimeType string
	for _, r := range rc.resources {
		if r.URI == uri {
			mimeType = r.MimeType
			break
		}
	}
	return []mcp.ResourceContents{{URI: uri, MimeType: mimeType, Text: text}}, nil
}
