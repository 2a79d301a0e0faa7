package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/ndmitriev/prizepool-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса призового пула.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/deposit", h.Deposit)
			r.Post("/withdraw", h.Withdraw)
			r.Get("/balance", h.GetBalance)
			r.Get("/operations", h.GetOperations)

			r.Get("/prizes/nft", h.GetPendingNFTs)
			r.Post("/prizes/nft/claim", h.ClaimNFT)
		})
	})

	r.Route("/api/pool", func(r chi.Router) {
		r.Get("/stats", h.GetPoolStats)
		r.Get("/draw", h.GetDrawStatus)
		r.Get("/emergency", h.GetEmergencyInfo)
		r.Get("/treasury", h.GetTreasuryStats)
		r.Get("/winners", h.GetWinners)
		r.Get("/nft", h.GetAvailableNFTs)
		r.Get("/preview-deposit", h.PreviewDeposit)
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(custommiddleware.AdminKey(h.adminKey))

		r.Post("/rewards/process", h.ProcessRewards)
		r.Post("/draw/start", h.StartDraw)
		r.Post("/draw/complete", h.CompleteDraw)
		r.Post("/draw/interval", h.SetDrawInterval)
		r.Post("/yield", h.AddYield)
		r.Post("/state", h.SetState)
		r.Post("/treasury", h.SetTreasury)
		r.Post("/bonus", h.SetBonusWeight)
		r.Post("/prize/fund", h.FundPrize)
		r.Post("/nft", h.DepositNFT)
		r.Delete("/nft/{id}", h.WithdrawNFT)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
