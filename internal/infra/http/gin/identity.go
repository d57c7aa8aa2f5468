package ginserver

import (
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"
)

const principalContextKey = "vendio.principal"

// principal is the resolved caller identity. Authentication itself lives in
// the edge gateway; chatd trusts the identity headers it forwards.
type principal struct {
	ID          string
	DisplayName string
	Roles       []string
}

func (p principal) HasRole(role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	for _, r := range p.Roles {
		if strings.ToLower(r) == role {
			return true
		}
	}
	return false
}

// IdentityMiddleware resolves the gateway identity headers into a principal.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if userID == "" {
			c.Next()
			return
		}
		p := principal{
			ID:          userID,
			DisplayName: strings.TrimSpace(c.GetHeader("X-User-Name")),
		}
		if roles := strings.TrimSpace(c.GetHeader("X-User-Roles")); roles != "" {
			for _, role := range strings.Split(roles, ",") {
				if role = strings.TrimSpace(role); role != "" {
					p.Roles = append(p.Roles, role)
				}
			}
		}
		c.Set(principalContextKey, p)
		c.Next()
	}
}

// requireRole aborts with 401/403 unless a principal with the given role is
// present. An empty role only requires authentication.
func requireRole(c *gin.Context, role string) (principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return principal{}, false
	}
	p, ok := value.(principal)
	if !ok || p.ID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return principal{}, false
	}
	if role != "" && !p.HasRole(role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return principal{}, false
	}
	return p, true
}
