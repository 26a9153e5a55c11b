package middleware

import (
	"compress/gzip"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// Responses below this size are written out uncompressed.
const gzipMinSize = 1024

// CompressionMiddleware gzips responses for clients that accept it. Already
// compressed content types and small bodies pass through untouched.
func CompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}
		if skipCompression(c) {
			c.Next()
			return
		}

		gz := gzip.NewWriter(c.Writer)
		defer gz.Close()

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		c.Writer = &gzipWriter{
			ResponseWriter: c.Writer,
			gz:             gz,
		}

		c.Next()
	}
}

type gzipWriter struct {
	gin.ResponseWriter
	gz io.Writer
}

func (g *gzipWriter) Write(data []byte) (int, error) {
	// Tiny bodies cost more gzipped than plain.
	if len(data) < gzipMinSize {
		g.Header().Del("Content-Encoding")
		return g.ResponseWriter.Write(data)
	}
	return g.gz.Write(data)
}

func (g *gzipWriter) WriteString(s string) (int, error) {
	return g.Write([]byte(s))
}

var incompressibleTypes = []string{
	"image/",
	"video/",
	"audio/",
	"application/zip",
	"application/gzip",
	"application/x-gzip",
}

func skipCompression(c *gin.Context) bool {
	contentType := c.GetHeader("Content-Type")
	for _, prefix := range incompressibleTypes {
		if strings.HasPrefix(contentType, prefix) {
			return true
		}
	}

	if raw := c.GetHeader("Content-Length"); raw != "" {
		if length, err := strconv.Atoi(raw); err == nil && length < gzipMinSize {
			return true
		}
	}
	return false
}
