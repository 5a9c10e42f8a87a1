package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Points API",
        "description": "Points ledger and limit enforcement for the school platform",
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
    "security": [
        {"BearerAuth": []}
    ],
    "tags": [
        {"name": "Points", "description": "Ledger transactions and account reads"},
        {"name": "Collaborators", "description": "Attendance and badge awards"},
        {"name": "Policies", "description": "Rate-limit policy administration"},
        {"name": "Dead Letters", "description": "Failed collaborator awards"}
    ],
    "paths": {
        "/points/transactions": {
            "post": {
                "tags": ["Points"],
                "summary": "Apply a points transaction",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApplyPointsRequest"}}
                ],
                "responses": {
                    "200": {"description": "Duplicate source reference; prior entry returned", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Insufficient balance", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Limit reached", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/transactions/{id}": {
            "get": {
                "tags": ["Points"],
                "summary": "Get a ledger entry",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/transactions/{id}/reverse": {
            "post": {
                "tags": ["Points"],
                "summary": "Reverse a ledger entry",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReverseRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already reversed or would go negative", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/accounts/{studentId}": {
            "get": {
                "tags": ["Points"],
                "summary": "Get a student's points account",
                "parameters": [
                    {"name": "studentId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/accounts/{studentId}/transactions": {
            "get": {
                "tags": ["Points"],
                "summary": "List a student's ledger entries",
                "parameters": [
                    {"name": "studentId", "in": "path", "required": true, "type": "string"},
                    {"name": "kind", "in": "query", "type": "string"},
                    {"name": "source", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "to", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/accounts/{studentId}/limits": {
            "get": {
                "tags": ["Points"],
                "summary": "Get remaining quota per window",
                "parameters": [
                    {"name": "studentId", "in": "path", "required": true, "type": "string"},
                    {"name": "school_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/attendance/check-in": {
            "post": {
                "tags": ["Collaborators"],
                "summary": "Award attendance check-in points",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AttendanceCheckInRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/badges/bonus": {
            "post": {
                "tags": ["Collaborators"],
                "summary": "Queue a badge bonus award",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BadgeBonusRequest"}}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/policies": {
            "get": {
                "tags": ["Policies"],
                "summary": "List limit policies",
                "parameters": [
                    {"name": "scope", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/policies/{scope}/{entityId}": {
            "get": {
                "tags": ["Policies"],
                "summary": "Get a limit policy",
                "parameters": [
                    {"name": "scope", "in": "path", "required": true, "type": "string"},
                    {"name": "entityId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Policies"],
                "summary": "Create or replace a limit policy",
                "parameters": [
                    {"name": "scope", "in": "path", "required": true, "type": "string"},
                    {"name": "entityId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpsertLimitPolicyRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Policies"],
                "summary": "Delete a school or student policy",
                "parameters": [
                    {"name": "scope", "in": "path", "required": true, "type": "string"},
                    {"name": "entityId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/points/school-rules/{schoolId}": {
            "get": {
                "tags": ["Policies"],
                "summary": "Get a school's point rule",
                "parameters": [
                    {"name": "schoolId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Policies"],
                "summary": "Replace a school's point rule",
                "parameters": [
                    {"name": "schoolId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpsertSchoolRuleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/dead-letters": {
            "get": {
                "tags": ["Dead Letters"],
                "summary": "List dead-lettered awards",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "student_id", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/points/dead-letters/{id}/replay": {
            "post": {
                "tags": ["Dead Letters"],
                "summary": "Replay a dead-lettered award",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already resolved", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "ApplyPointsRequest": {
            "type": "object",
            "required": ["student_id", "amount", "kind", "source", "description"],
            "properties": {
                "student_id": {"type": "string"},
                "school_id": {"type": "string"},
                "amount": {"type": "integer"},
                "kind": {"type": "string", "enum": ["earned", "spent", "adjusted"]},
                "source": {"type": "string"},
                "source_ref": {"type": "string"},
                "category": {"type": "string"},
                "description": {"type": "string"},
                "metadata": {"type": "object"}
            }
        },
        "ReverseRequest": {
            "type": "object",
            "required": ["reason"],
            "properties": {
                "reason": {"type": "string"}
            }
        },
        "AttendanceCheckInRequest": {
            "type": "object",
            "required": ["student_id", "attendance_record_id"],
            "properties": {
                "student_id": {"type": "string"},
                "school_id": {"type": "string"},
                "attendance_record_id": {"type": "string"},
                "source_type": {"type": "string", "enum": ["daily_check_in", "perfect_week", "streak_bonus"]},
                "streak": {"type": "integer"},
                "date": {"type": "string", "format": "date-time"},
                "points": {"type": "integer"}
            }
        },
        "BadgeBonusRequest": {
            "type": "object",
            "required": ["student_id", "badge_id", "badge_name", "points"],
            "properties": {
                "student_id": {"type": "string"},
                "school_id": {"type": "string"},
                "badge_id": {"type": "string"},
                "badge_name": {"type": "string"},
                "badge_description": {"type": "string"},
                "source_type": {"type": "string", "enum": ["achievement_badge", "milestone_badge", "special_badge"]},
                "points": {"type": "integer"}
            }
        },
        "WindowLimit": {
            "type": "object",
            "properties": {
                "maxPoints": {"type": "integer"},
                "enabled": {"type": "boolean"}
            }
        },
        "UpsertLimitPolicyRequest": {
            "type": "object",
            "properties": {
                "limits": {
                    "type": "object",
                    "properties": {
                        "daily": {"$ref": "#/definitions/WindowLimit"},
                        "weekly": {"$ref": "#/definitions/WindowLimit"},
                        "monthly": {"$ref": "#/definitions/WindowLimit"}
                    }
                },
                "source_limits": {
                    "type": "object",
                    "additionalProperties": {
                        "type": "object",
                        "properties": {
                            "daily": {"$ref": "#/definitions/WindowLimit"}
                        }
                    }
                }
            }
        },
        "UpsertSchoolRuleRequest": {
            "type": "object",
            "properties": {
                "attendance_points": {"type": "integer"},
                "task_category_points": {"type": "object", "additionalProperties": {"type": "integer"}},
                "daily_cap": {"type": "integer"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
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
