// Package swagger registers the OpenAPI document served under /swagger.
// Regenerate with `swag init -g cmd/api/main.go -o api/swagger` after changing
// handler annotations.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/tasks": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Create review task",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/service.CreateTaskDTO"}}],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Invalid prompt or request", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "No eligible reviewer", "schema": {"$ref": "#/definitions/response.Response"}},
                    "503": {"description": "Generation unavailable", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/tasks/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Get review task",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/tasks/{id}/history": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Task review history",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/tasks/{id}/transitions": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Apply workflow event",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handler.TransitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Refused; details.current_status holds the task status", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/tasks/{id}/assign": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["tasks"],
                "summary": "Assign held task",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/reviewers": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reviewers"],
                "summary": "List reviewer workloads",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/reviewers/me/pending": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["reviewers"],
                "summary": "My pending reviews",
                "parameters": [
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "integer", "name": "offset", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/reviewers/{id}": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reviewers"],
                "summary": "Register reviewer",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/service.RegisterReviewerDTO"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/reviewers/{id}/availability": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reviewers"],
                "summary": "Toggle availability",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/handler.AvailabilityRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/reviewers/{id}/quality": {
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["reviewers"],
                "summary": "Update quality signals",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/service.QualitySignalsDTO"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/delivery/tasks/{id}/dispatch": {
            "post": {
                "security": [{"ServiceKey": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["delivery"],
                "summary": "Dispatch authorized document",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/audit-logs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["audit"],
                "summary": "Get review logs",
                "parameters": [
                    {"type": "string", "name": "actor_id", "in": "query"},
                    {"type": "string", "name": "from", "in": "query"},
                    {"type": "string", "name": "to", "in": "query"},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/statistics": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Statistics"],
                "summary": "Get Task Statistics",
                "parameters": [
                    {"type": "string", "name": "workspace_id", "in": "query"},
                    {"type": "string", "name": "reviewer_id", "in": "query"},
                    {"type": "string", "name": "creator_id", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        }
    },
    "definitions": {
        "response.Response": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "status_code": {"type": "integer"},
                "data": {},
                "error": {"type": "string"},
                "code": {"type": "string"},
                "details": {"type": "object", "additionalProperties": true}
            }
        },
        "service.CreateTaskDTO": {
            "type": "object",
            "required": ["deadline"],
            "properties": {
                "prompt": {
                    "type": "object",
                    "properties": {
                        "document_type": {"type": "string"},
                        "instructions": {"type": "string"},
                        "case_facts": {"type": "string"},
                        "tone": {"type": "string"},
                        "constraints": {"type": "array", "items": {"type": "string"}},
                        "language": {"type": "string"}
                    }
                },
                "document_type": {"type": "string"},
                "title": {"type": "string"},
                "priority": {"type": "integer", "minimum": 1, "maximum": 5},
                "deadline": {"type": "string", "format": "date-time"},
                "workspace_id": {"type": "string"},
                "case_id": {"type": "string"},
                "order_id": {"type": "string"},
                "metadata": {"type": "object", "additionalProperties": true}
            }
        },
        "handler.TransitionRequest": {
            "type": "object",
            "required": ["event"],
            "properties": {
                "event": {"type": "string", "enum": ["accept", "edit", "approve", "reject", "request_modification", "submit_revision", "authorize", "cancel"]},
                "content": {"type": "string"},
                "comment": {"type": "string"},
                "expected_version": {"type": "integer"}
            }
        },
        "handler.AvailabilityRequest": {
            "type": "object",
            "required": ["is_available"],
            "properties": {"is_available": {"type": "boolean"}}
        },
        "service.RegisterReviewerDTO": {
            "type": "object",
            "required": ["max_concurrent_tasks"],
            "properties": {
                "display_name": {"type": "string"},
                "daily_capacity": {"type": "integer", "minimum": 0},
                "max_concurrent_tasks": {"type": "integer", "minimum": 1},
                "is_available": {"type": "boolean"}
            }
        },
        "service.QualitySignalsDTO": {
            "type": "object",
            "properties": {
                "approval_rate": {"type": "number"},
                "client_satisfaction": {"type": "number"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"},
        "ServiceKey": {"type": "apiKey", "name": "X-Service-Key", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Draft Review API",
	Description:      "AI-drafted legal documents routed through human review.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
