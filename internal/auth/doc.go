// Package auth issues and validates the bearer tokens that guard the mesh
// core's mutating API routes.
//
// Tokens are HS256 JWTs signed with security.jwt.secret and carry a role.
// Permissions are a static role mapping with no database lookup:
//
//	viewer: device:read
//	admin:  device:read, device:remove, network:permit
package auth
