// Package handler содержит HTTP-обработчики API сервиса призового пула.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ndmitriev/prizepool-system/internal/emergency"
	"github.com/ndmitriev/prizepool-system/internal/lottery"
	"github.com/ndmitriev/prizepool-system/internal/middleware"
	"github.com/ndmitriev/prizepool-system/internal/model"
	"github.com/ndmitriev/prizepool-system/internal/pool"
	"github.com/ndmitriev/prizepool-system/internal/randomness"
	"github.com/ndmitriev/prizepool-system/internal/repository"
	"github.com/ndmitriev/prizepool-system/internal/savings"
	"github.com/ndmitriev/prizepool-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	Deposit(ctx context.Context, userID int64, amount float64) error
	Withdraw(ctx context.Context, userID int64, amount float64) (model.WithdrawalResult, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	GetOperationsByUser(ctx context.Context, userID int64) ([]model.Operation, error)
	PreviewDeposit(amount float64) (int64, error)

	Stats() model.PoolStats
	DrawStatus() model.DrawStatus
	EmergencyInfo() model.EmergencyInfo
	TreasuryStats() model.TreasuryStats
	GetRecentWinners(ctx context.Context, limit int) ([]repository.DrawWinner, error)

	PendingNFTs(userID int64) []model.NFTPrize
	ClaimPendingNFT(userID int64, index int) (model.NFTPrize, error)
	AvailableNFTPrizeIDs() []uint64

	ProcessRewards(ctx context.Context) (model.DistributionPlan, error)
	StartDraw(ctx context.Context) (model.PrizeDrawReceipt, error)
	CompleteDraw(ctx context.Context) (model.DrawOutcome, error)
	SetEmergencyState(ctx context.Context, state model.PoolState, reason string) error
	SetDrawInterval(interval time.Duration) error
	SetBonusWeight(userID, weight int64) error
	SetTreasuryEnabled(enabled bool)
	AddSimulatedYield(amount float64) error
	FundPrizePool(amount float64) error
	DepositNFTPrize(prize model.NFTPrize) error
	WithdrawNFTPrize(id uint64) (model.NFTPrize, error)
}

// Handler реализует HTTP-обработчики API сервиса призового пула.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	adminKey       string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, adminKey string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		adminKey:       adminKey,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

// Deposit принимает депозит текущего пользователя в пул.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.Deposit(r.Context(), userID, req.Amount); err != nil {
		h.writePoolError(w, err, userID)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type withdrawalResponse struct {
	Requested     float64 `json:"requested"`
	Actual        float64 `json:"actual"`
	FromInterest  float64 `json:"from_interest"`
	FromPrincipal float64 `json:"from_principal"`
}

// Withdraw выводит средства текущего пользователя из пула. Нулевой
// фактический итог при неликвидном источнике — тоже статус 200: клиент
// различает исходы по полю actual.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.service.Withdraw(r.Context(), userID, req.Amount)
	if err != nil {
		h.writePoolError(w, err, userID)
		return
	}

	h.writeJSON(w, withdrawalResponse{
		Requested:     float64(result.Requested) / 100,
		Actual:        float64(result.Actual) / 100,
		FromInterest:  float64(result.FromInterest) / 100,
		FromPrincipal: float64(result.FromPrincipal) / 100,
	})
}

// writePoolError транслирует доменные ошибки пула в HTTP-статусы.
func (h *Handler) writePoolError(w http.ResponseWriter, err error, userID int64) {
	switch {
	case errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, emergency.ErrBelowMinimum),
		errors.Is(err, emergency.ErrAboveDepositCap):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, savings.ErrInsufficientShares),
		errors.Is(err, savings.ErrInsufficientBalance):
		http.Error(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, emergency.ErrPoolPaused),
		errors.Is(err, emergency.ErrDepositsDisabled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error("pool operation error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// GetBalance возвращает состояние текущего пользователя в пуле.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, balance)
}

type operationResponse struct {
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	ProcessedAt string  `json:"processed_at"`
}

// GetOperations возвращает журнал операций текущего пользователя.
func (h *Handler) GetOperations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	operations, err := h.service.GetOperationsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get operations error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(operations) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]operationResponse, 0, len(operations))
	for _, op := range operations {
		resp = append(resp, operationResponse{
			Type:        string(op.Type),
			Amount:      op.Amount,
			ProcessedAt: op.ProcessedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, resp)
}

// PreviewDeposit возвращает количество долей за депозит по текущему курсу.
func (h *Handler) PreviewDeposit(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil || amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	shares, err := h.service.PreviewDeposit(amount)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, map[string]int64{"shares": shares})
}

// GetPoolStats возвращает агрегированную статистику пула.
func (h *Handler) GetPoolStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.service.Stats())
}

// GetDrawStatus возвращает состояние протокола розыгрыша.
func (h *Handler) GetDrawStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.service.DrawStatus())
}

// GetEmergencyInfo возвращает состояние аварийного механизма.
func (h *Handler) GetEmergencyInfo(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.service.EmergencyInfo())
}

// GetTreasuryStats возвращает статистику казначейской части.
func (h *Handler) GetTreasuryStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.service.TreasuryStats())
}

type winnerResponse struct {
	Round     uint64   `json:"round"`
	UserID    int64    `json:"user_id"`
	Amount    float64  `json:"amount"`
	NFTIDs    []uint64 `json:"nft_ids,omitempty"`
	AwardedAt string   `json:"awarded_at"`
}

// GetWinners возвращает последних победителей розыгрышей.
func (h *Handler) GetWinners(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	winners, err := h.service.GetRecentWinners(r.Context(), limit)
	if err != nil {
		h.logger.Error("get winners error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(winners) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]winnerResponse, 0, len(winners))
	for _, win := range winners {
		resp = append(resp, winnerResponse{
			Round:     win.Round,
			UserID:    win.UserID,
			Amount:    win.Amount,
			NFTIDs:    win.NFTIDs,
			AwardedAt: win.AwardedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, resp)
}

// GetAvailableNFTs возвращает идентификаторы NFT в призовом эскроу.
func (h *Handler) GetAvailableNFTs(w http.ResponseWriter, r *http.Request) {
	ids := h.service.AvailableNFTPrizeIDs()
	h.writeJSON(w, map[string][]uint64{"available_nft_prize_ids": ids})
}

type nftResponse struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// GetPendingNFTs возвращает NFT-призы пользователя, ожидающие получения.
func (h *Handler) GetPendingNFTs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	pending := h.service.PendingNFTs(userID)
	if len(pending) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]nftResponse, 0, len(pending))
	for _, prize := range pending {
		resp = append(resp, nftResponse{ID: prize.ID, Name: prize.Name, Description: prize.Description})
	}
	h.writeJSON(w, resp)
}

type claimRequest struct {
	Index int `json:"index"`
}

// ClaimNFT выдаёт пользователю выигранный NFT по индексу очереди.
func (h *Handler) ClaimNFT(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	prize, err := h.service.ClaimPendingNFT(userID, req.Index)
	if err != nil {
		if errors.Is(err, lottery.ErrInvalidIndex) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("claim nft error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, nftResponse{ID: prize.ID, Name: prize.Name, Description: prize.Description})
}

// ProcessRewards собирает и распределяет накопленную доходность.
func (h *Handler) ProcessRewards(w http.ResponseWriter, r *http.Request) {
	plan, err := h.service.ProcessRewards(r.Context())
	if err != nil {
		h.logger.Error("process rewards error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, map[string]float64{
		"savings":  float64(plan.Savings) / 100,
		"lottery":  float64(plan.Lottery) / 100,
		"treasury": float64(plan.Treasury) / 100,
	})
}

// StartDraw начинает розыгрыш.
func (h *Handler) StartDraw(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.service.StartDraw(r.Context())
	if err != nil {
		h.writeDrawError(w, err)
		return
	}

	h.writeJSON(w, map[string]any{
		"round":        receipt.Round,
		"prize":        float64(receipt.PrizeAmount) / 100,
		"participants": len(receipt.Stakes),
		"request_id":   receipt.RequestID,
	})
}

// CompleteDraw завершает розыгрыш.
func (h *Handler) CompleteDraw(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.service.CompleteDraw(r.Context())
	if err != nil {
		h.writeDrawError(w, err)
		return
	}

	amounts := make([]float64, len(outcome.Amounts))
	for i, a := range outcome.Amounts {
		amounts[i] = float64(a) / 100
	}
	h.writeJSON(w, map[string]any{
		"round":   outcome.Round,
		"prize":   float64(outcome.PrizeAmount) / 100,
		"winners": outcome.Winners,
		"amounts": amounts,
		"nft_ids": outcome.NFTIDs,
	})
}

func (h *Handler) writeDrawError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pool.ErrDrawIntervalNotElapsed),
		errors.Is(err, randomness.ErrNotFinalized):
		http.Error(w, err.Error(), http.StatusTooEarly)
	case errors.Is(err, pool.ErrDrawInProgress),
		errors.Is(err, pool.ErrNoDrawInProgress),
		errors.Is(err, pool.ErrEmptyPrizePool),
		errors.Is(err, pool.ErrDrawNotAllowed),
		errors.Is(err, pool.ErrEmergencyTriggered):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("draw error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// AddYield начисляет симулируемую доходность встроенному источнику.
func (h *Handler) AddYield(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AddSimulatedYield(req.Amount); err != nil {
		if errors.Is(err, service.ErrNoSimulatedVault) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type stateRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

// SetState выполняет ручной переход состояния пула.
func (h *Handler) SetState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.State == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.SetEmergencyState(r.Context(), model.PoolState(req.State), req.Reason)
	if err != nil {
		if errors.Is(err, emergency.ErrInvalidTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("set state error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type intervalRequest struct {
	Interval string `json:"interval"`
}

// SetDrawInterval изменяет минимальный интервал между розыгрышами.
func (h *Handler) SetDrawInterval(w http.ResponseWriter, r *http.Request) {
	var req intervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetDrawInterval(interval); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type treasuryRequest struct {
	Enabled bool `json:"enabled"`
}

// SetTreasury включает или отключает получателя казначейской части.
func (h *Handler) SetTreasury(w http.ResponseWriter, r *http.Request) {
	var req treasuryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.service.SetTreasuryEnabled(req.Enabled)
	w.WriteHeader(http.StatusOK)
}

type bonusRequest struct {
	UserID int64 `json:"user_id"`
	Weight int64 `json:"weight"`
}

// SetBonusWeight задаёт бонусный лотерейный вес получателя.
func (h *Handler) SetBonusWeight(w http.ResponseWriter, r *http.Request) {
	var req bonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetBonusWeight(req.UserID, req.Weight); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// FundPrize зачисляет спонсорское финансирование в призовое хранилище.
func (h *Handler) FundPrize(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.FundPrizePool(req.Amount); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type nftDepositRequest struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DepositNFT помещает NFT в призовой эскроу.
func (h *Handler) DepositNFT(w http.ResponseWriter, r *http.Request) {
	var req nftDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 || req.Name == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.DepositNFTPrize(model.NFTPrize{ID: req.ID, Name: req.Name, Description: req.Description})
	if err != nil {
		if errors.Is(err, lottery.ErrNFTExists) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// WithdrawNFT изымает NFT из призового эскроу.
func (h *Handler) WithdrawNFT(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	prize, err := h.service.WithdrawNFTPrize(id)
	if err != nil {
		if errors.Is(err, lottery.ErrNFTNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.writeJSON(w, nftResponse{ID: prize.ID, Name: prize.Name, Description: prize.Description})
}
