package cmd

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zpoken/zkv-attestation-relay/relay"
)

type sessionStarter interface {
	Start(ctx context.Context, req relay.Request) string
}

type sessionStore interface {
	Get(id string) (relay.Session, bool)
	List() []relay.Session
}

func healthCheck(c *gin.Context) {
	response := gin.H{
		"status":  "ok",
		"message": "Health check passed",
	}

	c.JSON(http.StatusOK, response)
}

// startRelay runs sessions under ctx rather than the request context, so they
// outlive the request that started them.
func startRelay(ctx context.Context, starter sessionStarter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req relay.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id := starter.Start(ctx, req)
		c.JSON(http.StatusAccepted, gin.H{"id": id})
	}
}

func getSession(store sessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := store.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func listSessions(store sessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, store.List())
	}
}

func newRouter(ctx context.Context, starter sessionStarter, store sessionStore, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", healthCheck)
	router.POST("/relay", startRelay(ctx, starter))
	router.GET("/sessions", listSessions(store))
	router.GET("/sessions/:id", getSession(store))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return router
}
