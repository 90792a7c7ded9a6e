package api

import (
	"net/http"
	"strings"
)

type route struct {
	method  string
	path    string
	summary string
	scope   string
	body    bool
	codes   map[string]string
}

// routes documents the authenticated surface. Keep it in step with Handler.
var routes = []route{
	{http.MethodPut, "/processes/{epid}", "Dispatch a process (idempotent per epid)", "processes:rw", true,
		map[string]string{"200": "Process record", "400": "Invalid request", "502": "Dispatch to execution engine failed"}},
	{http.MethodDelete, "/processes/{epid}", "Terminate a process", "processes:rw", false,
		map[string]string{"202": "Termination requested", "404": "Process not found", "502": "Terminate call failed"}},
	{http.MethodGet, "/processes/{epid}", "Read a process and its recorded history", "processes:ro", false,
		map[string]string{"200": "Process record", "404": "Process not found"}},
	{http.MethodGet, "/dump", "Snapshot of resources, processes and the waiting queue", "processes:ro", false,
		map[string]string{"200": "Dump"}},
	{http.MethodPost, "/heartbeats", "Execution engine heartbeat", "feeds:rw", true,
		map[string]string{"202": "Heartbeat applied", "400": "Invalid heartbeat"}},
	{http.MethodPost, "/node-states", "Node lifecycle notification", "feeds:rw", true,
		map[string]string{"202": "Node state applied", "400": "Invalid node state"}},
	{http.MethodGet, "/registry", "List registry entries", "registry:ro", false,
		map[string]string{"200": "Registry entries"}},
	{http.MethodGet, "/registry/engines/{engineType}", "Deployable type hosting an engine type", "registry:ro", false,
		map[string]string{"200": "Registry entry", "404": "Not registered"}},
	{http.MethodGet, "/registry/deployable-types/{dt}", "Engine types of a deployable type", "registry:ro", false,
		map[string]string{"200": "Registry entry", "404": "Not registered"}},
	{http.MethodGet, "/events", "Server-sent event stream", "events:ro", false,
		map[string]string{"200": "text/event-stream"}},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the API.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Liveness and queue depth",
				"responses":   map[string]any{"200": map[string]any{"description": "Healthy"}},
			},
		},
	}

	for _, rt := range routes {
		responses := map[string]any{
			"401": map[string]any{"description": "Missing or invalid token"},
			"403": map[string]any{"description": "Insufficient scope"},
		}
		for code, desc := range rt.codes {
			responses[code] = map[string]any{"description": desc}
		}

		op := map[string]any{
			"summary":     rt.summary,
			"x-scope":     rt.scope,
			"responses":   responses,
			"security":    []any{map[string]any{"BearerAuth": []string{}}},
			"operationId": operationID(rt.method, rt.path),
		}
		if rt.body {
			op["requestBody"] = map[string]any{
				"required": true,
				"content":  map[string]any{"application/json": map[string]any{"schema": map[string]any{"type": "object"}}},
			}
		}

		item, _ := paths[rt.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[rt.path] = item
		}
		item[strings.ToLower(rt.method)] = op
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Conductor Process Dispatcher",
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

func operationID(method, path string) string {
	id := strings.ToLower(method)
	for _, c := range path {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			id += string(c)
		case c == '/' || c == '-':
			id += "_"
		}
	}
	return id
}
