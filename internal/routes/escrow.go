package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/atlas-pay/atlas_pay/internal/escrow"
)

// RegisterEscrowRoutes wires the escrow lifecycle endpoints.
func RegisterEscrowRoutes(r fiber.Router, h *escrow.Handler) {
	r.Post("/escrow", h.Initiate)
	r.Post("/escrow/:id/simulate", h.SimulateFee)
	r.Post("/escrow/:id/fund", h.Fund)
	r.Post("/escrow/:id/ship", h.Ship)
	r.Post("/escrow/:id/proof", h.Proof)
	r.Post("/escrow/:id/confirm", h.Confirm)
	r.Post("/escrow/:id/settle", h.Settle)
	r.Get("/escrow/:id", h.Get)
	r.Get("/escrow/:id/logs", h.Logs)
}
