// Package docs registers the generated swagger spec for the query API.
// Normally produced by `swag init`; hand-maintained here to match the
// handful of routes exposed by internal/api.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/nodes": {
            "get": {
                "produces": ["application/json"],
                "tags": ["nodes"],
                "summary": "List all nodes",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/nodes/{id}/observations": {
            "get": {
                "produces": ["application/json"],
                "tags": ["nodes"],
                "summary": "Get a node's observations",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/stations": {
            "get": {
                "produces": ["application/json"],
                "tags": ["stations"],
                "summary": "List all stations",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Get system statistics",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported swagger info for external use.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "Field Telemetry Collector Query API",
	Description:      "Read-only query API over stored field-station observations.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
