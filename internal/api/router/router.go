package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/alteration-tracker/internal/api/handlers/image"
	"github.com/aliskhannn/alteration-tracker/internal/api/handlers/workitem"
)

// Setup builds the HTTP engine with every route of the service.
func Setup(wh *workitem.Handler, ih *image.Handler) *ginext.Engine {
	r := ginext.New()

	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/health", func(c *ginext.Context) {
		c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	items := r.Group("/work-items")
	items.GET("", wh.List)                      // list, newest first
	items.POST("", wh.Create)                   // create
	items.GET("/:id", wh.Get)                   // single item
	items.PUT("/:id", wh.Update)                // full update
	items.PATCH("/:id/status", wh.UpdateStatus) // status and packed only

	r.POST("/images", ih.Upload) // multipart upload

	return r
}
