package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/product-video/internal/template"
)

// ListTemplates handles GET /api/v1/templates
func ListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"templates": template.All()})
}
