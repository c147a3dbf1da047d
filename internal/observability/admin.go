package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Status is the bridge-level state shown on /health and /ready.
type Status struct {
	State  string `json:"state"`
	ConnID string `json:"conn_id,omitempty"`
	Ready  bool   `json:"ready"`
}

// VariableStatus is one row of /variables.
type VariableStatus struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Direction string `json:"direction"`
	Policy    string `json:"policy"`
	MaxLen    int    `json:"max_len,omitempty"`
	Valid     bool   `json:"valid"`
	Commits   uint64 `json:"commits"`
	Wakes     uint64 `json:"wakes"`
	Observing bool   `json:"observing"`
	Pending   bool   `json:"pending"`
}

// StatusSource feeds the admin endpoints.
type StatusSource interface {
	Status() Status
	Variables() []VariableStatus
}

// Admin is the read-only HTTP surface of a running bridge.
type Admin struct {
	ID       string
	Addr     string
	Appeared time.Time

	source StatusSource
	router *gin.Engine
}

func NewAdmin(id, addr string, corsOrigins []string, source StatusSource) *Admin {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(AdminMiddleware(Logger("admin"), id))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(corsOrigins),
		AllowMethods:  []string{"GET"},
		AllowHeaders:  []string{"Origin", "Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		source:   source,
		router:   r,
	}
	a.registerRoutes()
	return a
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		st := a.source.Status()
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"state":   st.State,
			"uptime":  time.Since(a.Appeared).String(),
			"service": a.ID,
			"version": version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		st := a.source.Status()
		code := http.StatusOK
		if !st.Ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":   st.Ready,
			"state":   st.State,
			"conn_id": st.ConnID,
			"service": a.ID,
		})
	})

	a.router.GET("/variables", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"variables": a.source.Variables()})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve listens on Addr until ctx is done.
func (a *Admin) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(a.Addr))
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: a.router, ReadHeaderTimeout: 5 * time.Second}
	log.Info().Str("service", a.ID).Str("addr", ln.Addr().String()).Msg("admin listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
