package signal

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/drazan/huddle/internal/adapters/rtc"
	"github.com/drazan/huddle/internal/app"
	"github.com/drazan/huddle/internal/app/orch"
)

const anonymousUsername = "anonymous"

type OfferController struct {
	Orch *orch.Orchestrator
}

func NewOfferController(o *orch.Orchestrator) *OfferController {
	return &OfferController{Orch: o}
}

type OfferRequest struct {
	SDP      string `json:"sdp" binding:"required"`
	Type     string `json:"type" binding:"required"`
	Username string `json:"username"`
	ClientID string `json:"client_id"`
}

type OfferResponse struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
	PCID string `json:"pc_id"`
}

// HandleOffer ingests a client offer, builds the peer connection, pre-attaches
// every currently published track and answers. On any failure the session is
// never left partially registered.
func (ctl *OfferController) HandleOffer(ctx context.Context, c *gin.Context) {
	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Type != "offer" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_offer"})
		return
	}
	username := req.Username
	if username == "" {
		username = anonymousUsername
	}

	sid := app.NewSessionID()
	logger := log.With().Str("module", "signal.offer").Str("sid", string(sid)).Str("username", username).Logger()

	wc, err := rtc.NewWebRTCConnection(rtc.DefaultWebRTCConfig(), sid)
	if err != nil {
		logger.Error().Err(err).Msg("new peer connection")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "peer_connection"})
		return
	}

	ctl.Orch.BindMediaHandlers(wc, sid, username)

	if err := wc.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("start peer connection")
		wc.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "peer_connection"})
		return
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: req.SDP}
	if err := wc.ApplyOffer(offer); err != nil {
		logger.Error().Err(err).Msg("apply offer")
		wc.Close()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_offer"})
		return
	}

	// Existing publications ride along in the answer.
	ctl.Orch.PreAttach(sid, wc)

	answer, err := wc.CreateAnswer()
	if err != nil {
		logger.Error().Err(err).Msg("create answer")
		wc.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "answer"})
		return
	}

	ctl.Orch.Register(sid, username, req.ClientID, wc)
	logger.Info().Msg("session established")

	c.JSON(http.StatusOK, OfferResponse{
		SDP:  answer.SDP,
		Type: answer.Type.String(),
		PCID: string(sid),
	})
}

type SessionInfo struct {
	PCID     string `json:"pc_id"`
	Username string `json:"username"`
}

// ListSessions returns every active session for the read-only listing.
func (ctl *OfferController) ListSessions(c *gin.Context) {
	sessions := ctl.Orch.Registry.List()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{PCID: string(s.ID), Username: s.Username})
	}
	c.JSON(http.StatusOK, out)
}
