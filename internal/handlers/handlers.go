package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/featurescope/internal/archive"
	"github.com/example/featurescope/internal/auth"
	"github.com/example/featurescope/internal/logging"
	"github.com/example/featurescope/internal/repository"
	"github.com/example/featurescope/internal/usecase"
)

// MaxUploadSize is the default request body limit for archive uploads.
const MaxUploadSize = 64 << 20

// TokenIssuer exchanges credentials for access tokens.
type TokenIssuer interface {
	IssueToken(ctx context.Context, username, password string) (string, error)
}

// BatchService is the upload use case as seen by the HTTP layer.
type BatchService interface {
	ProcessArchive(ctx context.Context, username, filename string, body io.Reader) (*usecase.UploadResult, error)
	GetBatch(ctx context.Context, username, batchID string) (*repository.BatchLog, error)
	GetMetricsSummary(ctx context.Context, identity *auth.Identity) (*usecase.MetricsSummary, error)
}

// Options configure RegisterRoutes.
type Options struct {
	Tokens         TokenIssuer
	Batches        BatchService
	AuthMiddleware gin.HandlerFunc
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"Hello": "World"})
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	api.POST("/auth/token", func(c *gin.Context) {
		username := c.PostForm("username")
		password := c.PostForm("password")
		if username == "" || password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		token, err := opts.Tokens.IssueToken(c.Request.Context(), username, password)
		if err != nil {
			auth.Unauthorized(c, auth.LoginMessage)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token": token,
			"token_type":   auth.TokenType,
		})
	})

	api.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Upload endpoint working"})
	})

	protected := api.Group("", opts.AuthMiddleware)

	protected.GET("/auth/users/me", func(c *gin.Context) {
		identity, ok := auth.GetIdentity(c.Request.Context())
		if !ok {
			auth.Unauthorized(c, auth.CredentialsMessage)
			return
		}
		c.JSON(http.StatusOK, identity)
	})

	protected.POST("/upload", func(c *gin.Context) {
		identity, ok := auth.GetIdentity(c.Request.Context())
		if !ok {
			auth.Unauthorized(c, auth.CredentialsMessage)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUpload)
		file, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "archive exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "archive file is required"})
			return
		}
		if !archive.IsZipName(file.Filename) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Only ZIP files are allowed"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open archive"})
			return
		}
		defer src.Close()

		out, err := opts.Batches.ProcessArchive(c.Request.Context(), identity.Username, file.Filename, src)
		if err != nil {
			status, message := uploadError(err)
			if status == http.StatusInternalServerError {
				fields := append(logging.ErrorFields(err), zap.String("username", identity.Username), zap.String("archive", file.Filename))
				logger.Error("upload failed", fields...)
			}
			c.JSON(status, gin.H{"error": message})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message":          "Processing completed successfully",
			"batch_id":         out.BatchID,
			"filename":         out.Filename,
			"images_processed": len(out.Results),
			"results":          out.Results,
		})
	})

	protected.GET("/results/:id", func(c *gin.Context) {
		identity, ok := auth.GetIdentity(c.Request.Context())
		if !ok {
			auth.Unauthorized(c, auth.CredentialsMessage)
			return
		}
		batchID := c.Param("id")
		if batchID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		log, err := opts.Batches.GetBatch(c.Request.Context(), identity.Username, batchID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, log)
		case errors.Is(err, usecase.ErrBatchProcessing):
			c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID, "status": "processing"})
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		default:
			logger.Error("batch lookup failed", append(logging.ErrorFields(err), zap.String("batch_id", batchID))...)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
		}
	})

	protected.GET("/metrics", func(c *gin.Context) {
		identity, ok := auth.GetIdentity(c.Request.Context())
		if !ok {
			auth.Unauthorized(c, auth.CredentialsMessage)
			return
		}
		summary, err := opts.Batches.GetMetricsSummary(c.Request.Context(), identity)
		if err != nil {
			logger.Error("metrics aggregation failed", logging.ErrorFields(err)...)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// uploadError maps processing failures to a status and client-safe message.
func uploadError(err error) (int, string) {
	switch {
	case errors.Is(err, archive.ErrNotZip):
		return http.StatusBadRequest, "Only ZIP files are allowed"
	case errors.Is(err, archive.ErrInvalidArchive):
		return http.StatusBadRequest, "Invalid ZIP archive"
	case errors.Is(err, archive.ErrNoImages):
		return http.StatusBadRequest, "No valid images found in ZIP file"
	default:
		return http.StatusInternalServerError, "failed to process archive"
	}
}
