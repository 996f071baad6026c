package handlers

import (
	"net/http"

	"github.com/Daniel-Schutz/Ahoy-Marketplace/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter monta as rotas da API sobre o coordenador.
func NewRouter(coord *services.Coordinator) http.Handler {
	boatHandler := NewBoatHandler(coord)
	rentalHandler := NewRentalHandler(coord)
	transactionHandler := NewTransactionHandler(coord)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		conn := coord.Connection()
		respondWithJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"network": conn.Network,
			"signer":  conn.Signer,
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/mint-boat", boatHandler.MintBoat)
	r.Post("/create-boat-nft", boatHandler.CreateBoatNFT)
	r.Post("/boat-sale", boatHandler.BoatSale)
	r.Get("/boats/{boatUUID}", boatHandler.GetBoat)

	r.Post("/create-rental-agreement", rentalHandler.CreateRentalAgreement)
	r.Post("/handle-rental-cancellation", rentalHandler.HandleRentalCancellation)
	r.Post("/handle-rental-completion", rentalHandler.HandleRentalCompletion)

	r.Post("/update_metadata", transactionHandler.UpdateMetadata)

	return r
}
