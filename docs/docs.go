// Package docs holds the OpenAPI description served at /swagger.
//
// Regenerate with: swag init -g cmd/server/main.go -o docs
package docs

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
        "/auth/register": {
            "post": {
                "description": "Creates an account and returns it with a bearer token.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Register a new user",
                "operationId": "register",
                "parameters": [
                    {"description": "Account details", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.RegisterRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.AuthResponse"}},
                    "400": {"description": "Validation error or duplicate email", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/login": {
            "post": {
                "description": "Checks email and password and returns a bearer token.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Log in",
                "operationId": "login",
                "parameters": [
                    {"description": "Credentials", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.AuthResponse"}},
                    "400": {"description": "Missing email or password", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Invalid email or password", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/auth/profile": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Current user",
                "operationId": "profile",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ProfileResponse"}},
                    "401": {"description": "Missing or invalid token", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/message": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Archives the prompt, resolves a reply (remote generator or fallback table), archives the reply, and returns both.\nSupports idempotency via the Idempotency-Key header (same key → same result).",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Send a message and get the bot reply",
                "operationId": "postMessage",
                "parameters": [
                    {"type": "string", "example": "7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab", "description": "Idempotency key for safe retries (UUID recommended)", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Prompt", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.PostMessageRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.PostMessageResponse"}},
                    "400": {"description": "Text cannot be empty", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Missing or invalid token", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/chat/history": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns every message of the caller, oldest first. Sends a weak ETag; a matching If-None-Match yields 304.",
                "produces": ["application/json"],
                "tags": ["Messages"],
                "summary": "Conversation history",
                "operationId": "chatHistory",
                "parameters": [
                    {"type": "string", "description": "ETag from a previous response", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.HistoryResponse"}},
                    "304": {"description": "Not modified"},
                    "401": {"description": "Missing or invalid token", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.HistoryEntry": {
            "type": "object",
            "properties": {
                "sender": {"type": "string", "enum": ["user", "bot"], "example": "user"},
                "text": {"type": "string", "example": "hello"},
                "timestamp": {"type": "string", "example": "2025-01-02T15:04:05Z"}
            }
        },
        "domain.PublicUser": {
            "type": "object",
            "properties": {
                "email": {"type": "string", "example": "ann@x.com"},
                "id": {"type": "string", "example": "3f2a6c1e-8d2b-4f4e-9a57-0c1d2e3f4a5b"},
                "name": {"type": "string", "example": "Ann"}
            }
        },
        "handlers.AuthResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string", "example": "Login successful"},
                "token": {"type": "string", "example": "eyJhbGciOiJIUzI1NiIs..."},
                "user": {"$ref": "#/definitions/domain.PublicUser"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "validation_error"},
                "error": {"type": "string", "example": "Text cannot be empty"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.HistoryResponse": {
            "type": "object",
            "properties": {
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.HistoryEntry"}}
            }
        },
        "handlers.LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string", "example": "ann@x.com"},
                "password": {"type": "string", "example": "secret1"}
            }
        },
        "handlers.PostMessageRequest": {
            "type": "object",
            "properties": {
                "text": {"type": "string", "example": "hello"}
            }
        },
        "handlers.PostMessageResponse": {
            "type": "object",
            "properties": {
                "botMessage": {"type": "string", "example": "Hi there! How can I help you today?"},
                "userMessage": {"type": "string", "example": "hello"}
            }
        },
        "handlers.ProfileResponse": {
            "type": "object",
            "properties": {
                "user": {"$ref": "#/definitions/domain.PublicUser"}
            }
        },
        "handlers.RegisterRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string", "example": "ann@x.com"},
                "name": {"type": "string", "example": "Ann"},
                "password": {"type": "string", "example": "secret1"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Chat Relay API",
	Description:      "Authenticated chat relay: register, log in, send messages, read history.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
