// Package handlers exposes the encyclopedia and the classification flows
// over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/GoosieGav/PestHub/internal/auth"
	"github.com/GoosieGav/PestHub/internal/classifier"
	"github.com/GoosieGav/PestHub/internal/pests"
	"github.com/GoosieGav/PestHub/internal/service"
)

// MaxUploadSize is the largest image accepted by POST /api/classify.
const MaxUploadSize = 10 << 20

// Service is the business logic behind the routes.
type Service interface {
	Catalog() *pests.Catalog
	Classify(ctx context.Context, subject string, img classifier.Image) *service.Classification
	Search(ctx context.Context, query string) classifier.Result[classifier.SearchResult]
	Details(ctx context.Context, name string) classifier.Result[classifier.PestDetails]
	GetHistorySummary(ctx context.Context) (*service.HistorySummary, error)
	GetDuplicateReport(ctx context.Context, requestID string) (*service.DuplicateReport, error)
}

type searchRequest struct {
	Query string `json:"query"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. authMiddleware
// guards the POST routes; registry may be nil to skip /metrics.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc, registry *prometheus.Registry) {
	if authMiddleware == nil {
		authMiddleware = func(c *gin.Context) { c.Next() }
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")

	api.GET("/pests", func(c *gin.Context) {
		category := pests.Category(strings.TrimSpace(c.Query("category")))
		threat := pests.ThreatLevel(strings.TrimSpace(c.Query("threat")))
		records := svc.Catalog().Find(pests.Filter{
			Category: category,
			Threat:   threat,
			Query:    c.Query("q"),
		})
		c.JSON(http.StatusOK, gin.H{"count": len(records), "pests": records})
	})

	api.GET("/pests/:id", func(c *gin.Context) {
		record, ok := svc.Catalog().GetByID(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "pest not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"pest":           record,
			"threat_color":   pests.ThreatColor(record.ThreatLevel),
			"threat_label":   pests.ThreatLabel(record.ThreatLevel),
			"category_label": pests.CategoryLabel(record.Category),
		})
	})

	api.POST("/classify", authMiddleware, func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+1<<20)

		file, err := c.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the upload limit"})
			return
		}

		contentType := file.Header.Get("Content-Type")
		if !isImageContentType(contentType) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image uploads are supported"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		subject, _ := auth.Subject(c.Request.Context())
		out := svc.Classify(c.Request.Context(), subject, classifier.Image{Filename: file.Filename, Data: data})
		if cerr := out.Result.Err(); cerr != nil {
			c.JSON(statusForKind(cerr.Kind), gin.H{
				"request_id": out.RequestID,
				"success":    false,
				"error":      cerr.Message,
				"kind":       cerr.Kind,
			})
			return
		}

		result, _ := out.Result.Data()
		body := gin.H{
			"request_id": out.RequestID,
			"success":    true,
			"data":       result,
		}
		if out.PestID != "" {
			body["pest_id"] = out.PestID
		}
		c.JSON(http.StatusOK, body)
	})

	api.POST("/search", authMiddleware, func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body", "kind": classifier.KindValidation})
			return
		}
		writeResult(c, svc.Search(c.Request.Context(), req.Query))
	})

	api.GET("/details/:name", func(c *gin.Context) {
		res := svc.Details(c.Request.Context(), c.Param("name"))
		details, ok := res.Data()
		if !ok || details.IsJSON() {
			writeResult(c, res)
			return
		}
		contentType := details.ContentType
		if contentType == "" {
			contentType = "text/plain; charset=utf-8"
		}
		c.Data(http.StatusOK, contentType, details.Body)
	})

	api.GET("/history/summary", func(c *gin.Context) {
		summary, err := svc.GetHistorySummary(c.Request.Context())
		if err != nil {
			writeHistoryError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	api.GET("/history/:id", func(c *gin.Context) {
		report, err := svc.GetDuplicateReport(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeHistoryError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

func writeResult[T any](c *gin.Context, res classifier.Result[T]) {
	status := http.StatusOK
	if cerr := res.Err(); cerr != nil {
		status = statusForKind(cerr.Kind)
	}
	c.JSON(status, res)
}

func writeHistoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrHistoryDisabled):
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "classification not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read classification history"})
	}
}

// statusForKind maps a failure kind to the gateway's HTTP status.
func statusForKind(kind classifier.Kind) int {
	switch kind {
	case classifier.KindValidation:
		return http.StatusBadRequest
	case classifier.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func isImageContentType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return strings.HasPrefix(contentType, "image/")
}
