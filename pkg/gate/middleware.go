package gate

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Middleware wraps an http.Handler with admission control.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.skip != nil && g.skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		v := g.Check(r)
		g.setHeaders(w.Header(), v)
		if !v.Admit {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(v.Status)
			_ = json.NewEncoder(w).Encode(v.Body)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Gin returns the same admission control as a gin middleware.
func (g *Gate) Gin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.skip != nil && g.skip(c.Request) {
			c.Next()
			return
		}

		v := g.Check(c.Request)
		g.setHeaders(c.Writer.Header(), v)
		if !v.Admit {
			c.AbortWithStatusJSON(v.Status, v.Body)
			return
		}

		c.Next()
	}
}
