package api

import (
	"github.com/mattjoyce/archivist/internal/registry"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the archive API. The
// tools enum lists the archivers registered when the document is built.
func buildOpenAPIDoc(archivers []registry.Descriptor) map[string]any {
	toolIDs := make([]string, 0, len(archivers))
	for _, a := range archivers {
		toolIDs = append(toolIDs, a.ID)
	}

	secured := []any{map[string]any{"BearerAuth": []string{}}}
	siteParam := pathParam("siteID")
	archiveParam := pathParam("archiveID")

	paths := map[string]any{
		"/healthz": map[string]any{
			"get": operation("healthz", "Service health", nil, "200"),
		},
		"/archivers": map[string]any{
			"get": secure(operation("listArchivers", "List registered archivers", nil, "200"), secured),
		},
		"/events": map[string]any{
			"get": secure(operation("streamEvents", "Archive lifecycle events (SSE)",
				[]any{map[string]any{"name": "site", "in": "query", "schema": map[string]any{"type": "string"}}},
				"200", "403"), secured),
		},
		"/sites/{siteID}/archives": map[string]any{
			"post": withBody(secure(operation("startArchive", "Start an archive run",
				[]any{siteParam}, "202", "400", "403", "409"), secured), toolIDs),
			"get": secure(operation("listArchives", "List archive runs for a site",
				[]any{siteParam, map[string]any{"name": "limit", "in": "query", "schema": map[string]any{"type": "integer"}}},
				"200", "403"), secured),
		},
		"/sites/{siteID}/archives/current": map[string]any{
			"get": secure(operation("currentArchive", "The in-progress run for a site",
				[]any{siteParam}, "200", "403", "404"), secured),
		},
		"/archives/{archiveID}": map[string]any{
			"get": secure(operation("getArchive", "Archive run status",
				[]any{archiveParam}, "200", "403", "404"), secured),
		},
		"/archives/{archiveID}/cancel": map[string]any{
			"post": secure(operation("cancelArchive", "Cancel an archive run",
				[]any{archiveParam}, "202", "403", "404", "409"), secured),
		},
		"/archives/{archiveID}/download": map[string]any{
			"get": secure(operation("downloadArchive", "Download the zip artifact",
				[]any{archiveParam}, "200", "403", "404", "410"), secured),
		},
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Archivist",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func operation(id, summary string, params []any, statuses ...string) map[string]any {
	responses := map[string]any{}
	for _, code := range statuses {
		responses[code] = map[string]any{"description": statusDescriptions[code]}
	}
	op := map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses":   responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	return op
}

func secure(op map[string]any, security []any) map[string]any {
	op["security"] = security
	return op
}

func withBody(op map[string]any, toolIDs []string) map[string]any {
	op["requestBody"] = map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{
					"type":     "object",
					"required": []string{"tools"},
					"properties": map[string]any{
						"tools": map[string]any{
							"type":     "array",
							"minItems": 1,
							"items":    map[string]any{"type": "string", "enum": toolIDs},
						},
						"include_student_content": map[string]any{"type": "boolean"},
					},
				},
			},
		},
	}
	return op
}

func pathParam(name string) map[string]any {
	return map[string]any{
		"name":     name,
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}
}

var statusDescriptions = map[string]string{
	"200": "OK",
	"202": "Accepted",
	"400": "Bad request",
	"403": "Forbidden",
	"404": "Not found",
	"409": "Conflict",
	"410": "Artifact missing",
}
