package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/atlas-pay/atlas_pay/internal/bank"
)

// RegisterBankRoutes wires direct banking provider endpoints.
func RegisterBankRoutes(r fiber.Router, h *bank.Handler) {
	r.Get("/bank/accounts/:id/balance", h.Balance)
	r.Post("/bank/transfers/simulate", h.SimulateTransfer)
	r.Post("/bank/transfers", h.ExecuteTransfer)
	r.Post("/bank/cash-in", h.CashIn)
	r.Post("/bank/cash-out", h.CashOut)
}
