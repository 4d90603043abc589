package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "LMS API",
        "description": "Learning management backend: courses, enrollments, progress, organizations and certificates",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Auth", "description": "Registration, sessions and password changes"},
        {"name": "Users", "description": "User administration"},
        {"name": "Courses", "description": "Catalog, content and publication workflow"},
        {"name": "Enrollments", "description": "Learner course lists"},
        {"name": "Progress", "description": "Lesson completion and certificates"},
        {"name": "Organizations", "description": "Organization rosters and course grants"},
        {"name": "Categories", "description": "Catalog categories"},
        {"name": "Notifications", "description": "In-app inbox"},
        {"name": "Certificates", "description": "Signed certificate downloads"}
    ],
    "paths": {
        "/auth/register": {
            "post": {
                "tags": ["Auth"],
                "summary": "Register a learner account",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterRequest"}}],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Email taken"}}
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Login",
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Invalid credentials"}, "429": {"description": "Too many attempts"}}
            }
        },
        "/auth/refresh": {
            "post": {"tags": ["Auth"], "summary": "Rotate refresh token", "responses": {"200": {"description": "OK"}}}
        },
        "/courses": {
            "get": {
                "tags": ["Courses"],
                "summary": "List courses",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "instructor_id", "in": "query", "type": "string"},
                    {"name": "category", "in": "query", "type": "string"},
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "post": {
                "tags": ["Courses"],
                "summary": "Create draft course",
                "security": [{"BearerAuth": []}],
                "responses": {"201": {"description": "Created"}, "400": {"description": "Invalid payload"}}
            }
        },
        "/courses/{id}/content": {
            "put": {
                "tags": ["Courses"],
                "summary": "Replace course content",
                "description": "Merges the draft into the stored curriculum keeping ids stable, then prunes stale learner progress",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK; meta.partial flags enrollments that could not be recomputed"}}
            }
        },
        "/courses/{id}/transitions/{action}": {
            "post": {
                "tags": ["Courses"],
                "summary": "Move a course through the publication workflow",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "action", "in": "path", "required": true, "type": "string", "enum": ["submit", "approve", "reject", "unpublish", "archive"]}
                ],
                "responses": {"200": {"description": "OK"}, "403": {"description": "Not allowed"}, "409": {"description": "Invalid transition"}}
            }
        },
        "/courses/{id}/enroll": {
            "post": {"tags": ["Enrollments"], "summary": "Enroll in a published course", "security": [{"BearerAuth": []}], "responses": {"201": {"description": "Created"}, "409": {"description": "Already enrolled"}}}
        },
        "/courses/{id}/lessons/{lessonId}/complete": {
            "post": {
                "tags": ["Progress"],
                "summary": "Complete a lesson",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "lessonId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/LessonCompletionResult"}}}
            }
        },
        "/courses/{id}/certificate": {
            "get": {"tags": ["Certificates"], "summary": "Signed certificate download link", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}, "404": {"description": "Course not completed"}}}
        },
        "/certificates/download": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Download certificate PDF",
                "produces": ["application/pdf"],
                "parameters": [{"name": "token", "in": "query", "required": true, "type": "string"}],
                "responses": {"200": {"description": "PDF"}, "403": {"description": "Invalid or expired link"}}
            }
        },
        "/me/enrollments": {
            "get": {"tags": ["Enrollments"], "summary": "Effective enrollments of the caller", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}
        },
        "/organizations": {
            "get": {"tags": ["Organizations"], "summary": "List organizations", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}},
            "post": {
                "tags": ["Organizations"],
                "summary": "Create organization",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/OrganizationRequest"}}],
                "responses": {"201": {"description": "Created with sync report"}}
            }
        },
        "/organizations/{id}/resync": {
            "post": {"tags": ["Organizations"], "summary": "Re-apply organization membership", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "Sync report"}}}
        },
        "/organizations/{id}/progress/export": {
            "get": {
                "tags": ["Organizations"],
                "summary": "Export member progress",
                "produces": ["text/csv", "application/pdf"],
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}],
                "responses": {"200": {"description": "File"}}
            }
        },
        "/categories": {
            "get": {"tags": ["Categories"], "summary": "List categories", "responses": {"200": {"description": "OK"}}}
        },
        "/notifications": {
            "get": {"tags": ["Notifications"], "summary": "List my notifications", "security": [{"BearerAuth": []}], "responses": {"200": {"description": "OK"}}}
        }
    },
    "definitions": {
        "RegisterRequest": {
            "type": "object",
            "required": ["email", "password", "full_name"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"},
                "full_name": {"type": "string"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "OrganizationRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {
                "name": {"type": "string"},
                "users": {"type": "array", "items": {"type": "object", "properties": {"email": {"type": "string"}, "full_name": {"type": "string"}}}},
                "course_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "LessonCompletionResult": {
            "type": "object",
            "properties": {
                "enrollment_id": {"type": "string"},
                "course_id": {"type": "string"},
                "status": {"type": "string"},
                "progress": {
                    "type": "object",
                    "properties": {
                        "percentage": {"type": "integer"},
                        "completed_lessons": {"type": "array", "items": {"type": "string"}},
                        "time_spent": {"type": "integer"}
                    }
                },
                "completed_at": {"type": "string"},
                "certificate_id": {"type": "string"}
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
