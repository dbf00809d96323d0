package auth

import (
	"context"
	"net/http"
	"strings"

	"tradecore/internal/httputil"
)

// PortfolioProvisioner creates the default trading portfolio for a newly
// registered user. Implemented by the trading service.
type PortfolioProvisioner interface {
	ProvisionDefaultPortfolio(ctx context.Context, userID string) (string, error)
}

type Handler struct {
	svc        *Service
	portfolios PortfolioProvisioner
}

func NewHandler(svc *Service, portfolios PortfolioProvisioner) *Handler {
	return &Handler{svc: svc, portfolios: portfolios}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *credentialsRequest) validate() string {
	c.Email = strings.TrimSpace(strings.ToLower(c.Email))
	switch {
	case c.Email == "" || !strings.Contains(c.Email, "@"):
		return "a valid email is required"
	case len(c.Password) < 8:
		return "password must be at least 8 characters"
	default:
		return ""
	}
}

// Register creates the account and its default-risk portfolio, then issues
// a token so the client can trade immediately.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if msg := req.validate(); msg != "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: msg})
		return
	}
	userID, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	portfolioID, err := h.portfolios.ProvisionDefaultPortfolio(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "account created but portfolio provisioning failed, contact support"})
		return
	}
	token, err := h.svc.TokenFor(userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"user_id":      userID,
		"portfolio_id": portfolioID,
		"access_token": token,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"access_token": token})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.svc.GetUser(r.Context(), userID)
	if err != nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: "user not found"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": user.ID, "email": user.Email})
}
