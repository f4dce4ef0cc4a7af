package handler

import "github.com/gin-gonic/gin"

// Banner handles GET / — a static service identification response.
func Banner(c *gin.Context) {
	c.JSON(200, gin.H{"service": "chubindex", "status": "ok"})
}
