package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "IEP Collaboration API",
        "description": "Collaborative drafting, conflict-free merge and dual approval of Individualized Education Programs",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "IEPs", "description": "Document drafting, submission and export"},
        {"name": "Webhooks", "description": "Approval authority callbacks"},
        {"name": "Observability", "description": "Health and metrics"}
    ],
    "paths": {
        "/ieps": {
            "get": {
                "tags": ["IEPs"],
                "summary": "List IEP documents",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["IEPs"],
                "summary": "Create an IEP draft",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateIEPRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ieps/{id}": {
            "get": {
                "tags": ["IEPs"],
                "summary": "Get an IEP document",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ieps/{id}/draft": {
            "put": {
                "tags": ["IEPs"],
                "summary": "Apply a batch of draft operations",
                "description": "Operations are attempted independently; failures do not roll back earlier successes.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveDraftRequest"}}
                ],
                "responses": {
                    "200": {"description": "Per-operation outcome", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ieps/{id}/submit": {
            "post": {
                "tags": ["IEPs"],
                "summary": "Submit for dual approval",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "202": {"description": "Submitted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Document incomplete", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not submittable in current state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Approval service unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ieps/{id}/goals": {
            "post": {
                "tags": ["IEPs"],
                "summary": "Add a goal",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GoalInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ieps/{id}/accommodations": {
            "post": {
                "tags": ["IEPs"],
                "summary": "Add an accommodation",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AccommodationInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ieps/{id}/sync": {
            "post": {
                "tags": ["IEPs"],
                "summary": "Merge operations from another replica",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SyncRequest"}}
                ],
                "responses": {
                    "200": {"description": "Sync outcome", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Document locked", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ieps/{id}/resolve": {
            "post": {
                "tags": ["IEPs"],
                "summary": "Re-sort the operation log by timestamp",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"204": {"description": "Resolved"}}
            }
        },
        "/ieps/{id}/history": {
            "get": {
                "tags": ["IEPs"],
                "summary": "Operation log tail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ieps/{id}/archive": {
            "post": {
                "tags": ["IEPs"],
                "summary": "Archive an approved or rejected IEP",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not archivable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ieps/{id}/export": {
            "get": {
                "tags": ["IEPs"],
                "summary": "Download as CSV or PDF",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {"200": {"description": "File"}}
            }
        },
        "/ieps/{id}/audit": {
            "get": {
                "tags": ["IEPs"],
                "summary": "Audit trail of an IEP",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/webhooks/approvals": {
            "post": {
                "tags": ["Webhooks"],
                "summary": "Approval authority callback",
                "security": [],
                "parameters": [
                    {"name": "X-Approval-Signature", "in": "header", "type": "string"},
                    {"name": "X-Delivery-ID", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApprovalWebhook"}}
                ],
                "responses": {
                    "200": {"description": "Acknowledged"},
                    "401": {"description": "Bad signature"},
                    "422": {"description": "Unresolvable resource"}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "Aggregated engine counters",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        }
    },
    "definitions": {
        "CreateIEPRequest": {
            "type": "object",
            "required": ["studentId", "studentName", "schoolYear"],
            "properties": {
                "studentId": {"type": "string"},
                "studentName": {"type": "string"},
                "schoolYear": {"type": "string"},
                "effectiveDate": {"type": "string", "format": "date"},
                "expiryDate": {"type": "string", "format": "date"},
                "presentLevels": {"type": "string"},
                "transitionServices": {"type": "string"},
                "placement": {"type": "string"},
                "specialFactors": {"type": "array", "items": {"type": "string"}}
            }
        },
        "GoalInput": {
            "type": "object",
            "required": ["title", "description", "measurableCriteria"],
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "measurableCriteria": {"type": "string"},
                "domain": {"type": "string"},
                "targetDate": {"type": "string", "format": "date"}
            }
        },
        "AccommodationInput": {
            "type": "object",
            "required": ["title", "description"],
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "category": {"type": "string"},
                "setting": {"type": "string"}
            }
        },
        "OperationInput": {
            "type": "object",
            "required": ["operationType", "path"],
            "properties": {
                "operationType": {"type": "string", "enum": ["insert", "update", "delete"]},
                "path": {"type": "string", "example": "goals.0.title"},
                "value": {"type": "object"},
                "position": {"type": "integer"}
            }
        },
        "SaveDraftRequest": {
            "type": "object",
            "properties": {
                "operations": {"type": "array", "items": {"$ref": "#/definitions/OperationInput"}}
            }
        },
        "OperationRecord": {
            "type": "object",
            "required": ["operationType", "path", "author", "timestamp"],
            "properties": {
                "operationType": {"type": "string"},
                "path": {"type": "string"},
                "value": {"type": "object"},
                "position": {"type": "integer"},
                "author": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"},
                "version": {"type": "integer"}
            }
        },
        "SyncRequest": {
            "type": "object",
            "properties": {
                "operations": {"type": "array", "items": {"$ref": "#/definitions/OperationRecord"}}
            }
        },
        "ApprovalWebhook": {
            "type": "object",
            "required": ["event_type", "data"],
            "properties": {
                "event_type": {"type": "string", "enum": ["APPROVAL_RECEIVED", "APPROVAL_COMPLETED", "APPROVAL_REJECTED"]},
                "delivery_id": {"type": "string"},
                "data": {
                    "type": "object",
                    "properties": {
                        "resource_id": {"type": "string"},
                        "request_id": {"type": "string"},
                        "approvals": {"type": "array", "items": {"type": "object"}},
                        "rejection": {"type": "object"}
                    }
                }
            }
        },
        "OperationResult": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "errors": {"type": "array", "items": {"type": "string"}}
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
