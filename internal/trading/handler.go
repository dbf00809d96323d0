package trading

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/exchange"
	"tradecore/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type executeTradeRequest struct {
	PortfolioID     string `json:"portfolio_id"`
	ClientRequestID string `json:"client_request_id"`
	Symbol          string `json:"symbol"`
	Category        string `json:"category"`
	Direction       string `json:"direction"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	Leverage        string `json:"leverage"`
}

type tradeResponse struct {
	TradeID         string  `json:"trade_id"`
	PortfolioID     string  `json:"portfolio_id"`
	Symbol          string  `json:"symbol"`
	Direction       string  `json:"direction"`
	Amount          string  `json:"amount"`
	Currency        string  `json:"currency"`
	EntryPrice      *string `json:"entry_price,omitempty"`
	Status          string  `json:"status"`
	FailureReason   string  `json:"failure_reason,omitempty"`
	ExchangeOrderID string  `json:"exchange_order_id,omitempty"`
	Replayed        bool    `json:"replayed,omitempty"`
}

func toTradeResponse(t *domain.Trade, replayed bool) tradeResponse {
	resp := tradeResponse{
		TradeID:         t.ID,
		PortfolioID:     t.PortfolioID,
		Symbol:          t.Asset.Symbol,
		Direction:       string(t.Direction),
		Amount:          t.Amount.Amount().String(),
		Currency:        t.Amount.Currency(),
		Status:          string(t.Status),
		FailureReason:   t.FailureReason,
		ExchangeOrderID: t.ExchangeOrderID,
		Replayed:        replayed,
	}
	if entry, ok := t.EntryPrice(); ok {
		s := entry.Amount().String()
		resp.EntryPrice = &s
	}
	return resp
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request, userID string) {
	var req executeTradeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.PortfolioID == "" || req.ClientRequestID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "portfolio_id and client_request_id are required"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid amount"})
		return
	}
	leverage := decimal.NewFromInt(1)
	if req.Leverage != "" {
		leverage, err = decimal.NewFromString(req.Leverage)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid leverage"})
			return
		}
	}
	if err := h.authorize(r, userID, req.PortfolioID); err != nil {
		writeServiceError(w, err)
		return
	}
	res, err := h.svc.ExecuteTrade(r.Context(), ExecuteTradeRequest{
		PortfolioID:     req.PortfolioID,
		ClientRequestID: req.ClientRequestID,
		Symbol:          req.Symbol,
		Category:        domain.AssetCategory(req.Category),
		Direction:       domain.TradeDirection(req.Direction),
		Amount:          amount,
		Currency:        req.Currency,
		Leverage:        leverage,
	})
	if err != nil {
		if errors.Is(err, exchange.ErrRejected) && res.Trade != nil {
			httputil.WriteJSON(w, http.StatusUnprocessableEntity, toTradeResponse(res.Trade, false))
			return
		}
		writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, toTradeResponse(res.Trade, res.Replayed))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, userID string) {
	t, err := h.svc.GetTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.authorize(r, userID, t.PortfolioID); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTradeResponse(t, false))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	portfolioID := r.URL.Query().Get("portfolio_id")
	if portfolioID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "portfolio_id is required"})
		return
	}
	if err := h.authorize(r, userID, portfolioID); err != nil {
		writeServiceError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	trades, err := h.svc.ListTrades(r.Context(), portfolioID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t, false))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"trades": out})
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request, userID string) {
	id := chi.URLParam(r, "id")
	t, err := h.svc.GetTrade(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.authorize(r, userID, t.PortfolioID); err != nil {
		writeServiceError(w, err)
		return
	}
	settled, err := h.svc.SettleTrade(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTradeResponse(settled, false))
}

type failTradeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, userID string) {
	id := chi.URLParam(r, "id")
	var req failTradeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if req.Reason == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "reason is required"})
		return
	}
	t, err := h.svc.GetTrade(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.authorize(r, userID, t.PortfolioID); err != nil {
		writeServiceError(w, err)
		return
	}
	failed, err := h.svc.FailTrade(r.Context(), id, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toTradeResponse(failed, false))
}

type createPortfolioRequest struct {
	MaxPositionSize string `json:"max_position_size"`
	MaxLeverage     string `json:"max_leverage"`
	StopLossPct     string `json:"stop_loss_pct"`
}

func (h *Handler) CreatePortfolio(w http.ResponseWriter, r *http.Request, userID string) {
	var req createPortfolioRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	maxSize, err1 := decimal.NewFromString(req.MaxPositionSize)
	maxLev, err2 := decimal.NewFromString(req.MaxLeverage)
	stopLoss, err3 := decimal.NewFromString(req.StopLossPct)
	if err1 != nil || err2 != nil || err3 != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "risk parameters must be decimal strings"})
		return
	}
	risk, err := domain.NewRiskParameters(maxSize, maxLev, stopLoss)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	pf, err := h.svc.CreatePortfolio(r.Context(), userID, risk)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"portfolio_id": pf.ID})
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	NetSize       string `json:"net_size"`
	AvgEntryPrice string `json:"average_entry_price"`
	RealizedPnL   string `json:"realized_pnl"`
	UnrealizedPnL string `json:"unrealized_pnl,omitempty"`
	Currency      string `json:"currency"`
}

// GetPortfolio returns positions and risk limits. An optional mark_price
// query parameter values open positions for unrealized P&L.
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request, userID string) {
	id := chi.URLParam(r, "id")
	if err := h.authorize(r, userID, id); err != nil {
		writeServiceError(w, err)
		return
	}
	pf, err := h.svc.GetPortfolio(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var markPrice *decimal.Decimal
	if raw := r.URL.Query().Get("mark_price"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid mark_price"})
			return
		}
		markPrice = &d
	}
	positions := make([]positionResponse, 0)
	for _, p := range pf.Positions() {
		resp := positionResponse{
			Symbol:        p.Asset.Symbol,
			NetSize:       p.NetSize.String(),
			AvgEntryPrice: p.AvgEntryPrice.Amount().String(),
			RealizedPnL:   p.RealizedPnL.Amount().String(),
			Currency:      p.RealizedPnL.Currency(),
		}
		if markPrice != nil {
			mark, merr := domain.NewMoney(*markPrice, p.RealizedPnL.Currency())
			if merr == nil {
				if pnl, perr := p.UnrealizedPnL(mark); perr == nil {
					resp.UnrealizedPnL = pnl.Amount().String()
				}
			}
		}
		positions = append(positions, resp)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"portfolio_id":      pf.ID,
		"max_position_size": pf.Risk.MaxPositionSize.String(),
		"max_leverage":      pf.Risk.MaxLeverage.String(),
		"stop_loss_pct":     pf.Risk.StopLossPct.String(),
		"positions":         positions,
	})
}

// errNotOwner hides other users' portfolios behind a 404.
var errNotOwner = errors.New("portfolio not found")

func (h *Handler) authorize(r *http.Request, userID, portfolioID string) error {
	pf, err := h.svc.GetPortfolio(r.Context(), portfolioID)
	if err != nil {
		return err
	}
	if pf.UserID != userID {
		return errNotOwner
	}
	return nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTradeNotFound), errors.Is(err, ErrPortfolioNotFound), errors.Is(err, errNotOwner):
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
	case domain.IsRiskLimit(err):
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, httputil.ErrorResponse{Error: err.Error()})
	case domain.IsValidation(err), errors.Is(err, domain.ErrInvalidTransition):
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, exchange.ErrUnavailable):
		httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{Error: err.Error()})
	case domain.IsPersistence(err):
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "temporary storage failure, retry with the same client_request_id"})
	default:
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "internal error"})
	}
}
