package escrow

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/atlas-pay/atlas_pay/internal/bank"
	"github.com/atlas-pay/atlas_pay/internal/deliveryproof"
)

// Handler exposes the escrow lifecycle over HTTP.
type Handler struct {
	service *Service
}

// NewHandler constructs an escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type initiateRequest struct {
	BuyerID   string          `json:"buyer_id"`
	SellerID  string          `json:"seller_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
}

type shipRequest struct {
	SellerID string `json:"seller_id"`
}

type confirmRequest struct {
	Proof deliveryproof.Token `json:"proof"`
}

// Initiate creates a new escrow transaction.
func (h *Handler) Initiate(c *fiber.Ctx) error {
	var req initiateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.Initiate(c.UserContext(), InitiateInput{
		BuyerID:   req.BuyerID,
		SellerID:  req.SellerID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Amount:    req.Amount,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(transactionBody(tx))
}

// SimulateFee quotes the fee and advances the transaction.
func (h *Handler) SimulateFee(c *fiber.Ctx) error {
	tx, err := h.service.SimulateFee(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(transactionBody(tx))
}

// Fund escrows the buyer's funds.
func (h *Handler) Fund(c *fiber.Ctx) error {
	tx, err := h.service.Fund(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(transactionBody(tx))
}

// Ship records the seller handing over the goods.
func (h *Handler) Ship(c *fiber.Ctx) error {
	var req shipRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.MarkShipped(c.UserContext(), c.Params("id"), req.SellerID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(transactionBody(tx))
}

// Proof issues a delivery proof for a shipped order.
func (h *Handler) Proof(c *fiber.Ctx) error {
	token, err := h.service.IssueProof(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(token)
}

// Confirm verifies the delivery proof and marks the order delivered.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.ConfirmDelivery(c.UserContext(), c.Params("id"), req.Proof)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(transactionBody(tx))
}

// Settle releases escrowed funds to the seller.
func (h *Handler) Settle(c *fiber.Ctx) error {
	tx, err := h.service.Settle(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(transactionBody(tx))
}

// Get returns a transaction by id.
func (h *Handler) Get(c *fiber.Ctx) error {
	tx, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(transactionBody(tx))
}

// Logs returns the audit log for a transaction, oldest first.
func (h *Handler) Logs(c *fiber.Ctx) error {
	entries, err := h.service.Logs(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"transaction_id": c.Params("id"), "logs": entries})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "transaction not found")
	case errors.Is(err, ErrStatusConflict):
		return fiber.NewError(http.StatusConflict, "transaction is not in the required status")
	case errors.Is(err, ErrNotSeller):
		return fiber.NewError(http.StatusForbidden, "only the seller can perform this action")
	case errors.Is(err, ErrProofUnavailable):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrProofRejected):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if _, ok := bank.AsError(err); ok {
		return c.Status(bank.HTTPStatus(err)).JSON(bank.ErrorBody(err))
	}
	return fiber.NewError(http.StatusBadRequest, err.Error())
}

func transactionBody(tx Transaction) fiber.Map {
	return fiber.Map{
		"id":                      tx.ID,
		"buyer_id":                tx.BuyerID,
		"seller_id":               tx.SellerID,
		"product_id":              tx.ProductID,
		"quantity":                tx.Quantity,
		"amount":                  tx.Amount,
		"fee":                     tx.Fee,
		"total_amount":            tx.TotalAmount,
		"status":                  tx.Status,
		"provider_transaction_id": tx.ProviderTransactionID,
		"created_at":              tx.CreatedAt,
		"updated_at":              tx.UpdatedAt,
	}
}
