package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/a-essam23/go-canvas/pkg/auth"
	"github.com/a-essam23/go-canvas/pkg/canvas"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"
)

var grantRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "canvas",
	Subsystem: "auth",
	Name:      "grant_requests",
}, []string{"result"})

const maxTokenRequestBody = 4 << 10

type tokenResponse struct {
	Token      string           `json:"token"`
	UserID     string           `json:"userId"`
	RoomID     string           `json:"roomId"`
	Permission string           `json:"permission"`
	ExpiresAt  int64            `json:"expiresAt"`
	Display    auth.DisplayInfo `json:"display"`
}

// tokenHandler is the grant request endpoint: the caller's identity is
// resolved by the identity source, the requested room (and optional
// level, defaulting to FULL) comes from the JSON body, and the response
// carries the signed grant.
func (a *App) tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, err := a.identities.Identify(r.Context(), r)
	if err != nil {
		a.logger.Warn("Identity rejected for token request", slog.Any("error", err))
		grantRequests.WithLabelValues("unauthorized").Inc()
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTokenRequestBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	roomID := gjson.GetBytes(body, "room").String()
	if roomID == "" {
		grantRequests.WithLabelValues("bad_request").Inc()
		http.Error(w, "Bad Request: missing 'room' in request body", http.StatusBadRequest)
		return
	}

	level := auth.LevelFull
	if requested := gjson.GetBytes(body, "level"); requested.Exists() {
		level, err = auth.ParseLevel(requested.String())
		if err != nil {
			grantRequests.WithLabelValues("bad_request").Inc()
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	token, grant, err := a.issuer.Issue(identity, roomID, level)
	if err != nil {
		if errors.Is(err, canvas.ErrUnauthorized) {
			grantRequests.WithLabelValues("unauthorized").Inc()
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		a.logger.Error("Grant issuance failed", slog.Any("error", err))
		grantRequests.WithLabelValues("internal").Inc()
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	grantRequests.WithLabelValues("ok").Inc()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{
		Token:      token,
		UserID:     grant.UserID,
		RoomID:     grant.RoomID,
		Permission: auth.LevelName(grant.Permission),
		ExpiresAt:  grant.ExpiresAt.Unix(),
		Display:    grant.Display,
	})
}
