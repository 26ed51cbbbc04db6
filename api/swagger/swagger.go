package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "WhatsApp Attendance API",
        "description": "Attendance assistant driven by WhatsApp messages, with an admin REST API.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Chat", "description": "Conversation with the attendance bot"},
        {"name": "Students", "description": "Students identified by phone number"},
        {"name": "Schedules", "description": "Weekly timetables"},
        {"name": "Attendance", "description": "Daily attendance records"},
        {"name": "Summary", "description": "Attendance percentages and exports"},
        {"name": "Subjects", "description": "Shared subject catalogue"},
        {"name": "System", "description": "Runtime metrics"}
    ],
    "paths": {
        "/chat": {
            "post": {
                "tags": ["Chat"],
                "summary": "Simulate an inbound text message",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/ChatRequest"}}
                ],
                "responses": {
                    "200": {"description": "Bot reply", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Language model failure", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students": {
            "get": {
                "tags": ["Students"],
                "summary": "List students",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "query", "name": "search", "type": "string"},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "page_size", "type": "integer"},
                    {"in": "query", "name": "sort", "type": "string"},
                    {"in": "query", "name": "order", "type": "string", "enum": ["asc", "desc"]}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Students"],
                "summary": "Register or update a student by phone number",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/RegisterStudentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Roll number taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}": {
            "get": {
                "tags": ["Students"],
                "summary": "Get student detail",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Students"],
                "summary": "Delete a student with their schedule and attendance (admin)",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "204": {"description": "Deleted"},
                    "403": {"description": "Admin role required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/schedule/upload": {
            "post": {
                "tags": ["Schedules"],
                "summary": "Upload timetable images or a PDF for parsing",
                "security": [{"BearerAuth": []}],
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"in": "formData", "name": "phone", "required": true, "type": "string"},
                    {"in": "formData", "name": "images", "required": true, "type": "file"}
                ],
                "responses": {
                    "200": {"description": "Schedule stored", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "415": {"description": "Unsupported file", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Vision model failure", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/schedule": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Get a student's schedule",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "No schedule on file", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Schedules"],
                "summary": "Replace a student's schedule with structured timetable data",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {"200": {"description": "Schedule stored", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/students/{id}/schedule.ics": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Download the weekly schedule as iCalendar",
                "security": [{"BearerAuth": []}],
                "produces": ["text/calendar"],
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {"200": {"description": "Calendar file"}}
            }
        },
        "/students/{id}/attendance": {
            "get": {
                "tags": ["Attendance"],
                "summary": "List attendance records",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "query", "name": "from", "type": "string", "format": "date"},
                    {"in": "query", "name": "to", "type": "string", "format": "date"},
                    {"in": "query", "name": "status", "type": "string", "enum": ["PRESENT", "ABSENT", "CANCELLED", "HOLIDAY"]},
                    {"in": "query", "name": "subject_id", "type": "string"},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "page_size", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Attendance"],
                "summary": "Record a day's attendance",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "body", "name": "payload", "required": true, "schema": {"$ref": "#/definitions/RecordAttendanceRequest"}}
                ],
                "responses": {
                    "200": {"description": "Applied and unresolved entries", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "No schedule on file", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/students/{id}/summary": {
            "get": {
                "tags": ["Summary"],
                "summary": "Attendance summary",
                "security": [{"BearerAuth": []}],
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/students/{id}/summary/export": {
            "get": {
                "tags": ["Summary"],
                "summary": "Download the attendance summary",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv", "application/pdf", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "query", "name": "format", "type": "string", "enum": ["csv", "pdf", "xlsx"]}
                ],
                "responses": {"200": {"description": "Rendered file"}}
            }
        },
        "/subjects": {
            "get": {
                "tags": ["Subjects"],
                "summary": "List subjects",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"in": "query", "name": "search", "type": "string"},
                    {"in": "query", "name": "page", "type": "integer"},
                    {"in": "query", "name": "page_size", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/system/metrics": {
            "get": {
                "tags": ["System"],
                "summary": "Runtime metrics snapshot",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        }
    },
    "definitions": {
        "ChatRequest": {
            "type": "object",
            "required": ["phone_number", "message"],
            "properties": {
                "phone_number": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "RegisterStudentRequest": {
            "type": "object",
            "required": ["phone_number"],
            "properties": {
                "phone_number": {"type": "string"},
                "roll_number": {"type": "string"},
                "name": {"type": "string"},
                "semester": {"type": "integer", "minimum": 1, "maximum": 12}
            }
        },
        "AttendanceEntry": {
            "type": "object",
            "properties": {
                "subject_code": {"type": "string"},
                "status": {"type": "string", "enum": ["PRESENT", "ABSENT", "CANCELLED"]}
            }
        },
        "RecordAttendanceRequest": {
            "type": "object",
            "properties": {
                "date": {"type": "string", "format": "date"},
                "is_holiday": {"type": "boolean"},
                "entries": {"type": "array", "items": {"$ref": "#/definitions/AttendanceEntry"}}
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
                "status": {"type": "integer"}
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
