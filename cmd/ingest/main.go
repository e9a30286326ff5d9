package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/assetingest/cmd/ingest/container"
	"github.com/lyzr/assetingest/cmd/ingest/routes"
	"github.com/lyzr/assetingest/common/bootstrap"
	"github.com/lyzr/assetingest/common/server"
)

const serviceName = "ingest"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap common components (DB, logger, queue, cache, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap %s: %v\n", serviceName, err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(ctx, components)
	if err != nil {
		components.Logger.Error("Failed to initialize service container", "error", err)
		components.Shutdown(ctx)
		os.Exit(1)
	}

	// Orphaned blobs are reclaimed in the background
	go func() {
		if err := serviceContainer.Janitor.Start(ctx); err != nil && ctx.Err() == nil {
			components.Logger.Error("orphan janitor stopped", "error", err)
		}
	}()

	// Initialize Echo server
	e := setupEcho()

	// Setup middleware
	setupMiddleware(e)

	// Setup health check
	setupHealthCheck(e, components)

	// Register all routes
	registerRoutes(e, serviceContainer)

	// Start server
	if err := startServer(ctx, e, components); err != nil {
		components.Logger.Error("Server error", "error", err)
		cancel()
		components.Shutdown(context.Background())
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		if err := components.Health(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"service": serviceName,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": serviceName,
		})
	})
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, serviceContainer *container.Container) {
	routes.RegisterAssetRoutes(e, serviceContainer)
}

// startServer serves until a shutdown signal, then drains in-flight uploads
func startServer(ctx context.Context, e *echo.Echo, components *bootstrap.Components) error {
	port := components.Config.Service.Port
	components.Logger.Info("Starting ingest service", "port", port)

	return server.New(serviceName, port, e, components.Logger).Start(ctx)
}
