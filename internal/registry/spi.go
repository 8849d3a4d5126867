package registry

import "context"

// Request carries what an archiver needs to contribute to one archive run.
type Request struct {
	JobID                 string
	SiteID                string
	IncludeStudentContent bool
}

// Sink is the orchestrator surface handed to archivers. ArchiveContent is the
// only way archiver output reaches the archive root.
type Sink interface {
	ArchiveContent(ctx context.Context, jobID, siteID, label string, data []byte, filename string, subdirs ...string) error
	GetToolName(siteID, toolID string) string
	GetSiteHeader(siteID, toolID string) string
}

// Archiver contributes one tool's content to a site archive.
type Archiver interface {
	Archive(ctx context.Context, req Request, sink Sink) error
}

// ToolNamer reports a site-specific display name for a tool.
type ToolNamer interface {
	ToolName(siteID, toolID string) string
}

// Named reports a fixed display name.
type Named interface {
	Name() string
}

// Linked archivers contribute under another tool's section and run after it.
type Linked interface {
	LinkedToolID() string
}

// Extended archivers identify themselves.
type Extended interface {
	Archiver
	ToolID() string
	Name() string
}

// Descriptor summarises an archiver for listings.
type Descriptor struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LinkedToolID string `json:"linked_tool_id,omitempty"`
	Extended     bool   `json:"extended"`
}

// Describe inspects a's optional capabilities.
func Describe(id string, a Archiver) Descriptor {
	d := Descriptor{ID: id, Name: id}
	if n, ok := a.(Named); ok && n.Name() != "" {
		d.Name = n.Name()
	}
	if l, ok := a.(Linked); ok {
		d.LinkedToolID = l.LinkedToolID()
	}
	_, d.Extended = a.(Extended)
	return d
}
