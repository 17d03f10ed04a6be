package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Timetable Sync API",
        "description": "Collaborative timetable editing: session locks, position mutations, move proposals and a live event stream.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"}
    },
    "tags": [
        {"name": "Events", "description": "Session event stream"},
        {"name": "Locks", "description": "Session scoped resource locks"},
        {"name": "Positions", "description": "Placed timetable positions"},
        {"name": "Moves", "description": "Scheduled move proposals"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {"200": {"description": "OK"}, "503": {"description": "Database unreachable"}}
            }
        },
        "/metrics": {
            "get": {
                "summary": "Prometheus metrics",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/events": {
            "get": {
                "tags": ["Events"],
                "summary": "Open an event stream",
                "description": "The stream is the session. The first frame carries the session id used in X-Session-ID.",
                "security": [{"BearerAuth": []}],
                "produces": ["text/event-stream"],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/positions": {
            "get": {
                "tags": ["Positions"],
                "summary": "List placed positions",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Positions"],
                "summary": "Place a course edition",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/positions/move": {
            "post": {
                "tags": ["Positions"],
                "summary": "Move placed positions",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/positions/remove": {
            "post": {
                "tags": ["Positions"],
                "summary": "Remove placed positions",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/backlog": {
            "get": {
                "tags": ["Positions"],
                "summary": "List course editions with their placed and remaining units",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/view": {
            "get": {
                "tags": ["Positions"],
                "summary": "Snapshot of the timetable with the current event sequence",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/locks": {
            "get": {
                "tags": ["Locks"],
                "summary": "List held locks",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/locks/positions": {
            "post": {
                "tags": ["Locks"],
                "summary": "Lock schedule positions",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/locks/positions/release": {
            "post": {
                "tags": ["Locks"],
                "summary": "Release schedule position locks",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/locks/editions": {
            "post": {
                "tags": ["Locks"],
                "summary": "Lock course editions",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/locks/editions/release": {
            "post": {
                "tags": ["Locks"],
                "summary": "Release course edition locks",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/locks/editions/{courseId}/{editionId}/positions": {
            "post": {
                "tags": ["Locks"],
                "summary": "Lock every placed position of a course edition",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "courseId", "in": "path", "required": true, "type": "integer"},
                    {"name": "editionId", "in": "path", "required": true, "type": "integer"},
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/locks/groups/{groupId}/editions": {
            "post": {
                "tags": ["Locks"],
                "summary": "Lock the course editions of a student group",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "groupId", "in": "path", "required": true, "type": "integer"},
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/locks/sweep": {
            "post": {
                "tags": ["Locks"],
                "summary": "Release locks of disconnected sessions now",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/moves": {
            "get": {
                "tags": ["Moves"],
                "summary": "List proposals",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Moves"],
                "summary": "Propose a move",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/moves/{id}": {
            "get": {
                "tags": ["Moves"],
                "summary": "Get a proposal",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/moves/{id}/accept": {
            "post": {
                "tags": ["Moves"],
                "summary": "Accept a proposal",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/moves/{id}/withdraw": {
            "post": {
                "tags": ["Moves"],
                "summary": "Withdraw a proposal",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/moves/{id}/reject": {
            "post": {
                "tags": ["Moves"],
                "summary": "Reject a proposal",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "X-Session-ID", "in": "header", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Lock denied or slot occupied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session not connected", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
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
