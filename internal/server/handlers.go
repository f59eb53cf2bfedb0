package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"relay/internal/observability"
	"relay/internal/trigger"
	"relay/internal/workflow"
)

// Trigger handlers accept the event, kick processing in the background, and
// return 202: the reporting side (a notification forwarder, a location
// daemon) must never block on pipeline work. Each accepted event gets an ID
// that is echoed to the caller and carried through to the execution log.

func triggerContext() (context.Context, string) {
	eventID := uuid.NewString()
	return observability.ContextWithEventID(context.Background(), eventID), eventID
}

type notificationRequest struct {
	Package string `json:"package" binding:"required"`
	Title   string `json:"title"`
}

func (s *Server) handleNotificationTrigger(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, eventID := triggerContext()
	go s.notifications.HandleNotification(ctx, req.Package, req.Title)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "eventId": eventID})
}

type geofenceRequest struct {
	Transition string   `json:"transition" binding:"required"`
	IDs        []string `json:"ids"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
}

func (s *Server) handleGeofenceTrigger(c *gin.Context) {
	var req geofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	transition := trigger.Transition(strings.ToUpper(req.Transition))
	switch transition {
	case trigger.TransitionEnter, trigger.TransitionExit, trigger.TransitionDwell:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "transition must be ENTER, EXIT or DWELL"})
		return
	}

	ctx, eventID := triggerContext()
	go s.geofences.HandleTransition(ctx, trigger.TransitionEvent{
		Transition: transition,
		IDs:        req.IDs,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "eventId": eventID})
}

type photoRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *Server) handlePhotoTrigger(c *gin.Context) {
	if s.photos == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo watching not configured"})
		return
	}
	var req photoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, eventID := triggerContext()
	go s.photos.Offer(ctx, req.Path)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "eventId": eventID})
}

func (s *Server) handleListWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Local().List())
}

type createWorkflowRequest struct {
	Source             string   `json:"source" binding:"required"`
	SourceAccount      string   `json:"sourceAccount"`
	Destination        string   `json:"destination" binding:"required"`
	DestinationAccount string   `json:"destinationAccount" binding:"required"`
	Instructions       string   `json:"instructions"`
	GeoLatitude        *float64 `json:"geoLatitude"`
	GeoLongitude       *float64 `json:"geoLongitude"`
	GeoRadiusMeters    *float64 `json:"geoRadiusMeters"`
	PhotoPersonName    string   `json:"photoPersonName"`
}

func (s *Server) handleCreateWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source, err := workflow.ParseSource(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	destination, err := workflow.ParseDestination(req.Destination)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wf := workflow.Workflow{
		Source:             source,
		SourceAccount:      req.SourceAccount,
		Destination:        destination,
		DestinationAccount: req.DestinationAccount,
		Instructions:       req.Instructions,
		GeoLatitude:        req.GeoLatitude,
		GeoLongitude:       req.GeoLongitude,
		GeoRadiusMeters:    req.GeoRadiusMeters,
		PhotoPersonName:    req.PhotoPersonName,
		Active:             true,
	}
	if err := s.store.Local().Save(&wf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// New geofence workflows take effect without a restart.
	if g, ok := wf.Geofence(); ok && s.geofences != nil {
		s.geofences.RegisterWorkflow(c.Request.Context(), wf.ID, g)
	}
	c.JSON(http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(c *gin.Context) {
	wf, ok := s.store.Local().Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(c *gin.Context) {
	id := c.Param("id")
	if err := s.store.Local().Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.geofences != nil {
		s.geofences.UnregisterWorkflow(c.Request.Context(), id)
	}
	c.Status(http.StatusNoContent)
}
