// Package apidocs holds the OpenAPI document served at /swagger/doc.json.
// Regenerate with `swag init -g cmd/loramintd/docs.go -o internal/apidocs`.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "loramint maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/engine/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["engine"],
                "summary": "Engine supervisor status",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.EngineStatus"}}}
            }
        },
        "/api/engine/restart": {
            "post": {
                "produces": ["application/json"],
                "tags": ["engine"],
                "summary": "Retry a failed engine startup",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.EngineStatus"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List catalog models",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
            }
        },
        "/api/models/selected": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Selected model",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SelectedModelResponse"}}}
            },
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Select a model",
                "parameters": [{"description": "model to select", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.SelectModelRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelSettings"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/models/{id}/download": {
            "post": {
                "produces": ["text/event-stream"],
                "tags": ["models"],
                "summary": "Download model weights with streamed progress",
                "parameters": [{"type": "string", "description": "model id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ProgressEvent"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/generate/stream": {
            "post": {
                "description": "Responds with text/event-stream; each event is one data: line holding a ProgressEvent.",
                "consumes": ["application/json"],
                "produces": ["text/event-stream"],
                "tags": ["jobs"],
                "summary": "Generate an image with streamed progress",
                "parameters": [{"description": "generation job", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.GenerateRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ProgressEvent"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/system/gpu": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Accelerator snapshot",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.GpuStatus"}}}
            }
        }
    },
    "definitions": {
        "types.EngineStatus": {
            "type": "object",
            "properties": {
                "state": {"type": "string", "example": "running"},
                "base_url": {"type": "string", "example": "http://127.0.0.1:8000"},
                "started_by_us": {"type": "boolean"},
                "pid": {"type": "integer", "example": 12345},
                "launch_id": {"type": "string"},
                "stage": {"type": "string", "example": "install"},
                "last_error": {"type": "string"},
                "exit_code": {"type": "integer"},
                "since_unix": {"type": "integer"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "invalid JSON body"},
                "code": {"type": "integer", "example": 400}
            }
        },
        "types.ModelDescriptor": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "sdxl-base"},
                "name": {"type": "string"},
                "huggingface_id": {"type": "string"},
                "description": {"type": "string"},
                "is_downloaded": {"type": "boolean"},
                "local_path": {"type": "string"}
            }
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {"models": {"type": "array", "items": {"$ref": "#/definitions/types.ModelDescriptor"}}}
        },
        "types.SelectedModelResponse": {
            "type": "object",
            "properties": {"model": {"$ref": "#/definitions/types.ModelDescriptor"}}
        },
        "types.SelectModelRequest": {
            "type": "object",
            "properties": {"model_id": {"type": "string", "example": "sdxl-turbo"}}
        },
        "types.ModelSettings": {
            "type": "object",
            "properties": {
                "selectedModelId": {"type": "string"},
                "modelsPath": {"type": "string"},
                "setupComplete": {"type": "boolean"}
            }
        },
        "types.GpuStatus": {
            "type": "object",
            "properties": {
                "available": {"type": "boolean"},
                "name": {"type": "string"},
                "total_vram_gb": {"type": "number"},
                "free_vram_gb": {"type": "number"},
                "cuda_version": {"type": "string"},
                "driver_version": {"type": "string"}
            }
        },
        "types.GenerateRequest": {
            "type": "object",
            "properties": {
                "prompt": {"type": "string", "example": "a watercolor fox in the snow"},
                "userId": {"type": "string", "example": "user-42"},
                "loras": {"type": "array", "items": {"type": "object", "properties": {"file": {"type": "string"}, "strength": {"type": "number"}}}}
            }
        },
        "types.ProgressEvent": {
            "type": "object",
            "properties": {
                "event": {"type": "string", "enum": ["step", "phase", "progress", "complete", "error"]},
                "step": {"type": "integer"},
                "total_steps": {"type": "integer"},
                "percentage": {"type": "number"},
                "message": {"type": "string"},
                "image_path": {"type": "string"},
                "lora_path": {"type": "string"},
                "model_id": {"type": "string"},
                "downloaded_mb": {"type": "number"},
                "total_mb": {"type": "number"},
                "error": {"type": "string"},
                "success": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "loramintd API",
	Description:      "Orchestration API for the image generation and LoRA training engine.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
