package routes

import (
	"strconv"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/assetingest/cmd/ingest/container"
	"github.com/lyzr/assetingest/cmd/ingest/handlers"
	"github.com/lyzr/assetingest/cmd/ingest/middleware"
	commonmw "github.com/lyzr/assetingest/common/middleware"
)

// multipartOverhead covers part headers and boundaries on top of the file bytes
const multipartOverhead = 1 << 20

// RegisterAssetRoutes registers the asset API and rendition serving
func RegisterAssetRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAssetHandler(c.Pipeline, c.Store, c.Components.Logger)
	cfg := c.Components.Config

	// Asset API, authorization runs before any handler
	api := e.Group("/api/v1/assets")
	api.Use(middleware.RequireAuth(c.Authorizer, c.Components.Logger))
	{
		api.POST("", h.Upload,
			echomw.BodyLimit(uploadBodyLimit(cfg.Ingest.MaxBytes)),
			commonmw.UploadRateLimitMiddleware(c.Limiter, c.Components.Metrics, c.Components.Logger),
		)

		api.GET("", h.ListAssets)         // GET /api/v1/assets?limit=50
		api.GET("/:id", h.GetAsset)       // GET /api/v1/assets/3f2a...
		api.DELETE("/:id", h.DeleteAsset) // DELETE /api/v1/assets/3f2a...
	}

	// Renditions are public once cataloged
	e.GET(publicPrefix(cfg.Storage.PublicBase)+"/:name", h.ServeBlob) // GET /uploads/3f2a....jpg
}

// uploadBodyLimit bounds a request carrying the maximum number of files
func uploadBodyLimit(maxBytes int64) string {
	return strconv.FormatInt(maxBytes*handlers.MaxFilesPerUpload+multipartOverhead, 10)
}

func publicPrefix(base string) string {
	if base == "" {
		return ""
	}
	return "/" + base
}
