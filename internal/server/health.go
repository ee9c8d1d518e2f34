package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/abduss/gomedia/internal/config"
	"github.com/gin-gonic/gin"
)

const readinessTimeout = 5 * time.Second

type readinessCheck struct {
	component string
	run       func(ctx context.Context) error
}

func registerHealthRoutes(router *gin.Engine, deps Dependencies) {
	checks := readinessChecks(deps)

	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/health/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		for _, check := range checks {
			if err := check.run(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":    "degraded",
					"component": check.component,
					"error":     err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func readinessChecks(deps Dependencies) []readinessCheck {
	var checks []readinessCheck
	if deps.DB != nil {
		checks = append(checks, readinessCheck{component: "postgres", run: func(ctx context.Context) error {
			return deps.DB.Ping(ctx)
		}})
	}

	storage := deps.Config.Storage
	switch storage.Kind {
	case config.StorageS3:
		if deps.ObjectStore != nil {
			checks = append(checks, readinessCheck{component: "minio", run: func(ctx context.Context) error {
				ok, err := deps.ObjectStore.BucketExists(ctx, storage.MinIO.Bucket)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("bucket %q does not exist", storage.MinIO.Bucket)
				}
				return nil
			}})
		}
	case config.StorageLocal:
		checks = append(checks, readinessCheck{component: "storage", run: func(context.Context) error {
			return checkDir(storage.RootDir)
		}})
	}
	return checks
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New(dir + " is not a directory")
	}
	return nil
}
