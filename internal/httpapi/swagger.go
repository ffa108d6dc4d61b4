//go:build swagger

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// apiDoc is the OpenAPI document served at /swagger/doc.json. Keep it in
// step with the godoc annotations on the handlers.
type apiDoc struct{}

func (apiDoc) ReadDoc() string { return openAPIDoc }

func init() {
	swag.Register(swag.Name, apiDoc{})
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
	})
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

const openAPIDoc = `{
  "swagger": "2.0",
  "info": {"title": "completiond API", "version": "1.0", "description": "Text completion over inference pipelines."},
  "basePath": "/",
  "schemes": ["http"],
  "paths": {
    "/services": {"get": {"tags": ["services"], "summary": "List completion services", "produces": ["application/json"],
      "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ServicesResponse"}}}}},
    "/status": {"get": {"tags": ["status"], "summary": "Service status", "produces": ["application/json"],
      "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}}},
    "/complete": {"post": {"tags": ["complete"], "summary": "Complete a prompt",
      "consumes": ["application/json"], "produces": ["application/json", "application/x-ndjson"],
      "parameters": [{"in": "body", "name": "request", "required": true, "schema": {"$ref": "#/definitions/types.CompleteRequest"}}],
      "responses": {
        "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.CompleteResponse"}},
        "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
        "404": {"description": "Unknown service", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
        "429": {"description": "Too busy", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
        "502": {"description": "Completion failed", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
        "503": {"description": "Runtime unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}}}},
    "/complete/ws": {"get": {"tags": ["complete"], "summary": "Complete a prompt over a websocket",
      "responses": {"101": {"description": "Switching Protocols"}}}}
  },
  "definitions": {
    "types.CompleteRequest": {"type": "object", "required": ["prompt"], "properties": {
      "service": {"type": "string"}, "prompt": {"type": "string"}, "stream": {"type": "boolean"},
      "max_tokens": {"type": "integer"}, "temperature": {"type": "number"}, "top_p": {"type": "number"}}},
    "types.CompleteResponse": {"type": "object", "properties": {
      "id": {"type": "string"}, "service": {"type": "string"}, "model": {"type": "string"}, "task": {"type": "string"},
      "content": {"type": "string"}, "done": {"type": "boolean"}, "duration_ms": {"type": "integer"}}},
    "types.ErrorResponse": {"type": "object", "properties": {"error": {"type": "string"}, "code": {"type": "integer"}}},
    "types.ServiceInfo": {"type": "object", "properties": {
      "name": {"type": "string"}, "runtime": {"type": "string"}, "model": {"type": "string"}, "task": {"type": "string"},
      "device": {"type": "string"}, "state": {"type": "string"}, "error": {"type": "string"}}},
    "types.ServicesResponse": {"type": "object", "properties": {
      "services": {"type": "array", "items": {"$ref": "#/definitions/types.ServiceInfo"}}, "default": {"type": "string"}}},
    "types.StatusResponse": {"type": "object", "properties": {
      "services": {"type": "array", "items": {"type": "object"}}, "state": {"type": "string"}, "default": {"type": "string"},
      "host": {"type": "object"}, "uptime_seconds": {"type": "integer"}, "server_time_unix": {"type": "integer"}}}
  }
}`
