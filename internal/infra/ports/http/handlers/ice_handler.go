package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/easyclase/liveclass/internal/application/config"
	"github.com/easyclase/liveclass/internal/infra/ports/http/dto"
)

type IceHandler struct {
	cfg *config.Config
}

func NewIceHandler(cfg *config.Config) *IceHandler {
	return &IceHandler{cfg: cfg}
}

// IceServers hands clients ephemeral TURN credentials using coturn's
// static-auth-secret scheme. Without coturn configured only STUN is
// returned.
func (h *IceHandler) IceServers(c echo.Context) error {
	if h.cfg.CoturnServer.Host == "" {
		return c.JSON(http.StatusOK, dto.TurnCredentialsResponse{
			URLs: []string{h.cfg.StunURL},
		})
	}

	expiration := time.Now().Add(time.Hour).Unix()
	username := fmt.Sprintf("%d", expiration)

	mac := hmac.New(sha1.New, []byte(h.cfg.CoturnServer.Secret))
	mac.Write([]byte(username))
	password := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return c.JSON(http.StatusOK, dto.TurnCredentialsResponse{
		URLs: []string{
			fmt.Sprintf("turn:%s?transport=udp", h.cfg.CoturnServer.Host),
			fmt.Sprintf("turn:%s?transport=tcp", h.cfg.CoturnServer.Host),
		},
		Username: username,
		Password: password,
		TTL:      int(time.Hour.Seconds()),
	})
}
