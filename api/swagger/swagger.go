package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Lab Access API",
        "description": "Multi-stage approval workflow for lab and resource access requests",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login, token refresh, sessions"},
        {"name": "Requests", "description": "Access request lifecycle"},
        {"name": "Workflow", "description": "Approve, reject, restore, close"},
        {"name": "Dashboard", "description": "Stats and submitter overview"},
        {"name": "Exports", "description": "Register exports and downloads"},
        {"name": "Users", "description": "Admin user management"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate with email and password",
                "responses": {
                    "200": {"description": "Token pair issued"},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Rotate the refresh token",
                "responses": {
                    "200": {"description": "New token pair"},
                    "401": {"description": "Expired or revoked token"}
                }
            }
        },
        "/requests": {
            "get": {
                "tags": ["Requests"],
                "summary": "List access requests visible to the caller",
                "responses": {
                    "200": {"description": "Request list"}
                }
            },
            "post": {
                "tags": ["Requests"],
                "summary": "Submit a new access request",
                "responses": {
                    "201": {"description": "Request created in pending status"},
                    "403": {"description": "Caller is not a submitter role"}
                }
            }
        },
        "/requests/{id}": {
            "get": {
                "tags": ["Requests"],
                "summary": "Request detail",
                "responses": {
                    "200": {"description": "Request"},
                    "404": {"description": "Unknown request"}
                }
            },
            "put": {
                "tags": ["Requests"],
                "summary": "Edit a pending request",
                "responses": {
                    "200": {"description": "Updated request"},
                    "409": {"description": "Request is no longer pending"}
                }
            },
            "delete": {
                "tags": ["Requests"],
                "summary": "Withdraw or delete a request",
                "responses": {
                    "204": {"description": "Deleted"},
                    "409": {"description": "Status forbids deletion"}
                }
            }
        },
        "/requests/{id}/workflow": {
            "get": {
                "tags": ["Requests"],
                "summary": "Ordered stage timeline",
                "responses": {
                    "200": {"description": "Timeline"}
                }
            }
        },
        "/requests/{id}/history": {
            "get": {
                "tags": ["Requests"],
                "summary": "Approval ledger entries",
                "responses": {
                    "200": {"description": "Ledger, oldest first"}
                }
            }
        },
        "/requests/{id}/approve": {
            "post": {
                "tags": ["Workflow"],
                "summary": "Approve the awaiting stage",
                "responses": {
                    "200": {"description": "Request advanced"},
                    "403": {"description": "Actor may not decide this stage"},
                    "409": {"description": "Status changed concurrently"}
                }
            }
        },
        "/requests/{id}/reject": {
            "post": {
                "tags": ["Workflow"],
                "summary": "Reject with a mandatory reason",
                "responses": {
                    "200": {"description": "Request rejected"},
                    "400": {"description": "Reason missing"}
                }
            }
        },
        "/requests/{id}/restore": {
            "post": {
                "tags": ["Workflow"],
                "summary": "Restore a rejected request to pending",
                "responses": {
                    "200": {"description": "Request restored"},
                    "409": {"description": "Request is not rejected"}
                }
            }
        },
        "/requests/{id}/close": {
            "post": {
                "tags": ["Workflow"],
                "summary": "Close an approved request",
                "responses": {
                    "200": {"description": "Request closed"},
                    "403": {"description": "Admin only"}
                }
            }
        },
        "/worklist": {
            "get": {
                "tags": ["Workflow"],
                "summary": "Approver worklist",
                "responses": {
                    "200": {"description": "Awaiting and decided requests"}
                }
            }
        },
        "/dashboard/stats": {
            "get": {
                "tags": ["Dashboard"],
                "summary": "Aggregate request counts",
                "responses": {
                    "200": {"description": "Stats"}
                }
            }
        },
        "/dashboard/overview": {
            "get": {
                "tags": ["Dashboard"],
                "summary": "Submitter overview with timelines",
                "responses": {
                    "200": {"description": "Overview"}
                }
            }
        },
        "/exports": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export the register as CSV or PDF",
                "responses": {
                    "200": {"description": "Signed download metadata"}
                }
            }
        },
        "/exports/download/{token}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a generated export",
                "responses": {
                    "200": {"description": "File stream"},
                    "401": {"description": "Invalid or expired token"}
                }
            }
        },
        "/users": {
            "get": {
                "tags": ["Users"],
                "summary": "List users",
                "responses": {
                    "200": {"description": "Users with pagination"}
                }
            },
            "post": {
                "tags": ["Users"],
                "summary": "Create a user",
                "responses": {
                    "201": {"description": "User created"}
                }
            }
        }
    },
    "definitions": {
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
