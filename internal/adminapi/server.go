package adminapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PoluyanbIch/dailyquiz/internal/metrics"
	"github.com/PoluyanbIch/dailyquiz/internal/service"
)

// Refresher is the part of the quiz engine the admin API drives.
type Refresher interface {
	ForceRefresh(ctx context.Context, confirm bool) (string, error)
	AttemptedCount() int
	Sessions() *service.SessionStore
}

// Deps are the collaborators of the admin router.
type Deps struct {
	Engine     Refresher
	Board      *service.ScoreBoard
	Counters   *metrics.Counters
	CurrentKey func() string
}

// NewRouter builds the admin HTTP routes.
func NewRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"active_sessions": deps.Engine.Sessions().Len(),
			"quiz_date_key":   currentKey(deps),
		})
	})

	router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":          deps.Counters.Snapshot(),
			"active_sessions":   deps.Engine.Sessions().Len(),
			"attempted_today":   deps.Engine.AttemptedCount(),
			"leaderboard_users": deps.Board.Len(),
		})
	})

	router.GET("/leaderboard", func(c *gin.Context) {
		limit := 10
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		c.JSON(http.StatusOK, gin.H{
			"quiz_date_key": deps.Board.DateKey(),
			"entries":       deps.Board.Top(limit),
		})
	})

	router.POST("/refresh", func(c *gin.Context) {
		confirm, _ := strconv.ParseBool(c.Query("confirm"))
		key, err := deps.Engine.ForceRefresh(c.Request.Context(), confirm)
		switch {
		case errors.Is(err, service.ErrActiveSessions), errors.Is(err, service.ErrFinalQuestionWindow):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "hint": "retry with confirm=true"})
		case err != nil:
			log.Printf("admin refresh failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"quiz_date_key": key})
		}
	})

	return router
}

func currentKey(deps Deps) string {
	if deps.CurrentKey == nil {
		return ""
	}
	return deps.CurrentKey()
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("admin API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
