package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the roles recognised by the RBAC middleware.
type UserRole string

const (
	RoleAdmin       UserRole = "ADMIN"
	RoleCaseManager UserRole = "CASE_MANAGER"
	RoleCoordinator UserRole = "SPECIAL_ED_COORDINATOR"
	RolePrincipal   UserRole = "PRINCIPAL"
	RoleTeacher     UserRole = "TEACHER"
)

// JWTClaims is the access token payload issued by the identity provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
