package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/visitscribe/internal/api/handler"
	"github.com/timmy/visitscribe/internal/api/middleware"
	"github.com/timmy/visitscribe/internal/logger"
)

// Handlers bundles the route handlers. Admin may be nil to disable the
// admin routes.
type Handlers struct {
	Health      *handler.HealthHandler
	Jobs        *handler.JobHandler
	Notes       *handler.NoteHandler
	Transcripts *handler.TranscriptHandler
	Admin       *handler.AdminHandler
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(h Handlers, mode string, cors middleware.CORSConfig, log *logger.Logger) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(cors))

	if h.Health == nil {
		h.Health = handler.NewHealthHandler(nil)
	}
	r.GET("/health", h.Health.Health)

	v1 := r.Group("/api/v1")
	{
		// Jobs
		v1.POST("/jobs", h.Jobs.Enqueue)
		v1.GET("/jobs/:id", h.Jobs.Get)
		v1.POST("/jobs/:id/process", h.Jobs.Process)

		// Transcripts
		v1.GET("/transcripts", h.Transcripts.List)

		// Visit notes
		v1.GET("/visits/:visit_id/notes", h.Notes.Get)
		v1.POST("/visits/:visit_id/notes", h.Notes.Append)
		v1.POST("/visits/:visit_id/notes/sign", h.Notes.Sign)
	}

	if h.Admin != nil {
		admin := v1.Group("/admin")
		admin.POST("/fallback/replay", h.Admin.TriggerReplay)
		admin.GET("/fallback/status", h.Admin.ReplayStatus)
		admin.GET("/jobs", h.Admin.ListJobs)
		admin.GET("/jobs/stats", h.Admin.JobStats)
	}

	return r
}
