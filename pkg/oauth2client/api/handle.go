// Package api exposes the client registry admin endpoints.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/relayhq/relay-auth/pkg/errors"
	"github.com/relayhq/relay-auth/pkg/oauth2client"
)

// Handle implements the client registry endpoints
type Handle struct {
	clientService *oauth2client.ClientService
}

// NewHandle creates a new client registry API handler
func NewHandle(clientService *oauth2client.ClientService) *Handle {
	return &Handle{clientService: clientService}
}

// Routes registers the client admin endpoints; the caller wraps them in the
// authorizer with an admin scope
func (h *Handle) Routes(r chi.Router) {
	r.Post("/oauth2/clients", h.CreateClient)
	r.Get("/oauth2/clients", h.ListClients)
	r.Delete("/oauth2/clients/{clientID}", h.DeleteClient)
}

// CreateClientRequest registers a new OAuth2 client
type CreateClientRequest struct {
	ClientID     string   `json:"client_id"`
	ClientName   string   `json:"client_name"`
	ClientType   string   `json:"client_type"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
}

// CreateClientResponse returns the registered client. ClientSecret is
// present exactly once, at registration.
type CreateClientResponse struct {
	ClientID     string    `json:"client_id"`
	ClientName   string    `json:"client_name"`
	ClientType   string    `json:"client_type"`
	ClientSecret string    `json:"client_secret,omitempty"`
	RedirectURIs []string  `json:"redirect_uris"`
	Scopes       []string  `json:"scopes"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateClient registers a client and, for confidential clients, returns the
// generated secret exactly once
func (h *Handle) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, errors.InvalidInput("body", "malformed JSON"))
		return
	}

	client, secret, err := h.clientService.CreateClient(r.Context(), oauth2client.CreateClientParams{
		ClientID:     req.ClientID,
		ClientName:   req.ClientName,
		ClientType:   req.ClientType,
		RedirectURIs: req.RedirectURIs,
		Scopes:       req.Scopes,
	})
	if err != nil {
		renderError(w, r, err)
		return
	}

	slog.Info("Client registered", "client_id", client.ClientID, "client_type", client.ClientType)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CreateClientResponse{
		ClientID:     client.ClientID,
		ClientName:   client.ClientName,
		ClientType:   client.ClientType,
		ClientSecret: secret,
		RedirectURIs: client.RedirectURIs,
		Scopes:       client.Scopes,
		CreatedAt:    client.CreatedAt,
	})
}

// ListClients returns all registered clients without secret material
func (h *Handle) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.clientService.ListClients(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}

	result := make([]CreateClientResponse, 0, len(clients))
	for _, client := range clients {
		result = append(result, CreateClientResponse{
			ClientID:     client.ClientID,
			ClientName:   client.ClientName,
			ClientType:   client.ClientType,
			RedirectURIs: client.RedirectURIs,
			Scopes:       client.Scopes,
			CreatedAt:    client.CreatedAt,
		})
	}
	render.JSON(w, r, map[string]interface{}{"clients": result})
}

// DeleteClient removes a client registration; idempotent
func (h *Handle) DeleteClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if err := h.clientService.DeleteClient(r.Context(), clientID); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := errors.MapErrorCodeToHTTPStatus(code)

	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "code", code, "error", err)
	} else {
		slog.Info("Request rejected", "path", r.URL.Path, "code", code, "error", err)
	}

	message := "internal error"
	if status < http.StatusInternalServerError {
		if appErr, ok := err.(*errors.Error); ok {
			message = appErr.Message
		}
	}
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}
