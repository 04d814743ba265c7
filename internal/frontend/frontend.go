// Package frontend serves the embedded browser viewer.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed static
var assets embed.FS

// Static returns the viewer assets rooted at the static directory.
func Static() fs.FS {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic(err) // embedded directory always exists
	}
	return sub
}

// RegisterRoutes serves the viewer page at / and its assets under /static.
func RegisterRoutes(router gin.IRoutes) error {
	static := Static()
	index, err := fs.ReadFile(static, "index.html")
	if err != nil {
		return err
	}

	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})
	router.StaticFS("/static", http.FS(static))
	return nil
}
