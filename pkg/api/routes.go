package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the management API under /api/v1. Everything but login needs a token.
func RegisterRoutes(router *gin.Engine, auth *JwtAuth, h *EndpointHandler) {
	v1 := router.Group("/api/v1")
	v1.POST("/login", auth.LoginHandler)

	protected := v1.Group("")
	protected.Use(auth.JWTMiddleware())
	{
		types := protected.Group("/types")
		types.GET("", h.ListTypes)
		types.GET("/:type/definition", h.GetDefinition)
		types.GET("/:type/default", h.GetDefault)

		endpoints := protected.Group("/endpoints")
		endpoints.GET("", h.List)
		endpoints.POST("", h.Create)
		endpoints.GET("/:name", h.Get)
		endpoints.DELETE("/:name", h.Delete)
		endpoints.POST("/:name/start", h.Start)
		endpoints.POST("/:name/stop", h.Stop)
		endpoints.POST("/:name/restart", h.Restart)
		endpoints.GET("/:name/configuration", h.GetConfiguration)
		endpoints.PUT("/:name/configuration", h.PutConfiguration)
		endpoints.POST("/:name/configuration/reload", h.ReloadConfiguration)
		endpoints.POST("/:name/configuration/save", h.SaveConfiguration)
		endpoints.POST("/:name/send", h.Send)
	}
}

// NewRouter builds the gin engine with the security middleware and the API routes.
func NewRouter(auth *JwtAuth, h *EndpointHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), SecurityHeaders())
	RegisterRoutes(router, auth, h)
	return router
}
