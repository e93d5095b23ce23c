package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Venue Booking API",
        "description": "Campus venue reservation coordination service",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Bookings", "description": "Reservation lifecycle"},
        {"name": "Venues", "description": "Venue catalogue and availability ledger"},
        {"name": "Rules", "description": "Booking policy administration"},
        {"name": "Notifications", "description": "Lifecycle notification inbox"}
    ],
    "paths": {
        "/bookings": {
            "get": {
                "tags": ["Bookings"],
                "summary": "List bookings",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "venue_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string", "enum": ["pending", "approved", "rejected", "cancelled"]},
                    {"name": "from_date", "in": "query", "type": "string"},
                    {"name": "to_date", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Bookings"],
                "summary": "Submit a booking request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitBookingRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation or rule violation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot conflict or venue unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/bookings/{id}": {
            "get": {
                "tags": ["Bookings"],
                "summary": "Get a booking",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/bookings/{id}/approve": {
            "post": {
                "tags": ["Bookings"],
                "summary": "Approve a pending booking",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/bookings/{id}/reject": {
            "post": {
                "tags": ["Bookings"],
                "summary": "Reject a pending booking",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectBookingRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid transition or missing reason", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/bookings/{id}/cancel": {
            "post": {
                "tags": ["Bookings"],
                "summary": "Cancel a booking",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid transition", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/venues": {
            "get": {
                "tags": ["Venues"],
                "summary": "List bookable venues",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "type", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/venues/{id}/availability": {
            "get": {
                "tags": ["Venues"],
                "summary": "Get slot occupancy for a date range",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/venues/{id}/availability/check": {
            "get": {
                "tags": ["Venues"],
                "summary": "Check whether a window is free on every date in a range",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "from_date", "in": "query", "required": true, "type": "string"},
                    {"name": "to_date", "in": "query", "required": true, "type": "string"},
                    {"name": "start_time", "in": "query", "required": true, "type": "string"},
                    {"name": "end_time", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/venues/{id}/blocks": {
            "post": {
                "tags": ["Venues"],
                "summary": "Block a venue window",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BlockVenueRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/venues/{id}/blocks/{slotId}": {
            "delete": {
                "tags": ["Venues"],
                "summary": "Release a block",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "slotId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/venues/{id}/bookings/export": {
            "get": {
                "tags": ["Venues"],
                "summary": "Export a venue booking sheet",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "from", "in": "query", "required": true, "type": "string"},
                    {"name": "to", "in": "query", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File"}
                }
            }
        },
        "/rules": {
            "get": {
                "tags": ["Rules"],
                "summary": "List booking rules",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "scope", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Rules"],
                "summary": "Create a booking rule",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveRuleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/rules/{id}": {
            "put": {
                "tags": ["Rules"],
                "summary": "Update a booking rule",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SaveRuleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "List the caller's notifications",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "unread", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications/unread-count": {
            "get": {
                "tags": ["Notifications"],
                "summary": "Get the unread count",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications/{id}/read": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Mark a notification read",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/notifications/{id}/acknowledge": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Acknowledge a notification",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        }
    },
    "definitions": {
        "SubmitBookingRequest": {
            "type": "object",
            "properties": {
                "venue_id": {"type": "string"},
                "event_name": {"type": "string"},
                "contact": {"type": "string"},
                "from_date": {"type": "string", "example": "2026-09-01"},
                "to_date": {"type": "string", "example": "2026-09-03"},
                "from_time": {"type": "string", "example": "09:00"},
                "to_time": {"type": "string", "example": "12:00"},
                "participants": {"type": "integer"},
                "extras": {"type": "object"}
            },
            "required": ["venue_id", "event_name", "contact", "from_date", "to_date", "from_time", "to_time", "participants"]
        },
        "RejectBookingRequest": {
            "type": "object",
            "properties": {
                "reason": {"type": "string"}
            },
            "required": ["reason"]
        },
        "BlockVenueRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string"},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "reason": {"type": "string"},
                "block_type": {"type": "string", "enum": ["manual", "maintenance"]}
            },
            "required": ["date", "start_time", "end_time", "reason", "block_type"]
        },
        "SaveRuleRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "scope": {"type": "string", "enum": ["global", "venue_type", "venue", "department", "role"]},
                "venue_type": {"type": "string"},
                "venue_id": {"type": "string"},
                "department": {"type": "string"},
                "user_role": {"type": "string"},
                "max_advance_booking_days": {"type": "integer"},
                "min_advance_booking_hours": {"type": "integer"},
                "max_booking_duration_hours": {"type": "number"},
                "min_booking_duration_hours": {"type": "number"},
                "blackouts": {"type": "object"},
                "max_participants": {"type": "integer"},
                "min_participants": {"type": "integer"},
                "requires_faculty_approval": {"type": "boolean"},
                "requires_admin_approval": {"type": "boolean"},
                "requires_hod_approval": {"type": "boolean"},
                "auto_approve": {"type": "boolean"},
                "max_bookings_per_day": {"type": "integer"},
                "max_bookings_per_week": {"type": "integer"},
                "max_bookings_per_month": {"type": "integer"},
                "prevent_concurrent_bookings": {"type": "boolean"},
                "cooldown_hours": {"type": "integer"},
                "active": {"type": "boolean"},
                "priority": {"type": "integer"},
                "effective_from": {"type": "string"},
                "effective_until": {"type": "string"}
            },
            "required": ["name", "scope"]
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
