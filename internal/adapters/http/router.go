package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/teleconsulta/coordinator/internal/adapters/signal"
	"github.com/teleconsulta/coordinator/internal/app"
	"github.com/teleconsulta/coordinator/internal/config"
	"github.com/teleconsulta/coordinator/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags each browser with a stable transport token.
// It identifies the connection for logging; authorization is decided per
// room by the coordinator's boundary.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, coord *app.Coordinator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ConsultaSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	// POST /api/rooms — open a room for a doctor-patient pair.
	api.POST("/rooms", func(c *gin.Context) {
		var req struct {
			DoctorID  string `json:"doctorId" binding:"required"`
			PatientID string `json:"patientId" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		room, err := coord.CreateRoom(c.Request.Context(), domain.UserID(req.DoctorID), domain.UserID(req.PatientID))
		if err != nil {
			if errors.Is(err, domain.ErrRoomConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, room)
	})

	// GET /api/rooms/:code — room state for the consultation page.
	api.GET("/rooms/:code", func(c *gin.Context) {
		room, err := coord.LookupRoom(domain.RoomCode(c.Param("code")))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"room":         room,
			"participants": coord.Presence.Participants(room.Code),
		})
	})

	// POST /api/rooms/:code/finalize — explicit end from the room page.
	api.POST("/rooms/:code/finalize", func(c *gin.Context) {
		var req struct {
			Role   string `json:"role" binding:"required"`
			UserID string `json:"userId" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		identity, err := domain.NewIdentity(req.Role, req.UserID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		code := domain.RoomCode(c.Param("code"))
		rec, err := coord.Finalize(c.Request.Context(), code, identity, domain.ReasonExplicitEnd)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, rec)
		case errors.Is(err, domain.ErrBillingFailed):
			// Billing retries in the background; the consultation is over.
			c.JSON(http.StatusOK, gin.H{"record": rec, "warning": "billing deferred"})
		case errors.Is(err, domain.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})

	ctrl := signal.NewConsultWSController(coord, cfg)
	r.GET("/ws/consult", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("token", c.GetString("client_token")).Msg("ws consult endpoint hit")
		ctrl.HandleConsult(ctx, c)
	})

	return r
}
