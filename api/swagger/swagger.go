package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Exam Correction API",
        "description": "Exam correction and grade aggregation service",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Correction", "description": "Closed-question scoring and grading dispatch"},
        {"name": "Grading", "description": "Asynchronous open-question grading callbacks"},
        {"name": "Reports", "description": "Class report aggregation"},
        {"name": "GradeSpec", "description": "Per-class grade specification"}
    ],
    "paths": {
        "/exams/{id}/correct": {
            "post": {
                "tags": ["Correction"],
                "summary": "Run a correction pass over an exam",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Exam not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exams/{id}/answers": {
            "get": {
                "tags": ["Correction"],
                "summary": "List current grades for an exam's responses",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Exam not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exams/{id}/dispatch": {
            "post": {
                "tags": ["Correction"],
                "summary": "Re-scan an exam and enqueue pending open answers",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/grading/callback": {
            "post": {
                "tags": ["Grading"],
                "summary": "Apply an asynchronous grading result",
                "parameters": [
                    {"name": "X-Grading-Token", "in": "header", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GradingCallback"}}
                ],
                "responses": {
                    "200": {"description": "Accepted, including duplicates and scheduled retries", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Invalid grading token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown response/question pair", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/classes/{id}/report": {
            "get": {
                "tags": ["Reports"],
                "summary": "Build the class report snapshot",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Class not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/classes/{id}/grade-spec": {
            "get": {
                "tags": ["GradeSpec"],
                "summary": "Read a class's grade specification",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Class or specification not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["GradeSpec"],
                "summary": "Replace a class's grade specification",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GradeSpecDocument"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Goal weights sum to zero", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "GradingCallback": {
            "type": "object",
            "required": ["response_id", "question_id"],
            "properties": {
                "response_id": {"type": "string"},
                "question_id": {"type": "string"},
                "score": {"type": "number", "minimum": 0, "maximum": 10},
                "feedback": {"type": "string"}
            }
        },
        "GradeSpecDocument": {
            "type": "object",
            "properties": {
                "goals": {"type": "object", "additionalProperties": {"type": "number"}},
                "concepts": {"type": "object", "additionalProperties": {"type": "number"}}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
