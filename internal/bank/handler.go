package bank

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// HTTPStatus maps a provider error onto the status the router should
// return. Transient kinds invite a retry; InvalidResponse flags an
// integration defect, never a business failure.
func HTTPStatus(err error) int {
	be, ok := AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch be.Kind {
	case KindValidation, KindInsufficientBalance:
		return http.StatusBadRequest
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindNetwork, KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody renders a provider error as a response payload, surfacing
// the exact shortfall on insufficient balance.
func ErrorBody(err error) fiber.Map {
	be, ok := AsError(err)
	if !ok {
		return fiber.Map{"error": err.Error()}
	}
	body := fiber.Map{"error": be.Message, "kind": string(be.Kind)}
	if be.Kind == KindInsufficientBalance {
		body["available"] = be.Available
		body["required"] = be.Required
	}
	return body
}

// Handler exposes the banking provider over HTTP.
type Handler struct {
	provider Provider
}

// NewHandler constructs a bank handler.
func NewHandler(provider Provider) *Handler {
	return &Handler{provider: provider}
}

type transferBody struct {
	Source           string          `json:"source"`
	Amount           decimal.Decimal `json:"amount"`
	DestinationPhone string          `json:"destination_phone"`
	DestinationRIB   string          `json:"destination_rib"`
}

type cashBody struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
}

// Balance returns the committed balance for an account.
func (h *Handler) Balance(c *fiber.Ctx) error {
	bal, err := h.provider.GetBalance(c.UserContext(), c.Params("id"))
	if err != nil {
		return c.Status(HTTPStatus(err)).JSON(ErrorBody(err))
	}
	return c.JSON(fiber.Map{
		"account_id": bal.AccountID,
		"balance":    bal.Balance,
		"currency":   bal.Currency,
	})
}

// SimulateTransfer quotes the fee for a transfer without moving funds.
func (h *Handler) SimulateTransfer(c *fiber.Ctx) error {
	var req transferBody
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	quote, err := h.provider.SimulateTransfer(c.UserContext(), TransferInput{
		Source:           req.Source,
		Amount:           req.Amount,
		DestinationPhone: req.DestinationPhone,
		DestinationRIB:   req.DestinationRIB,
	})
	if err != nil {
		return c.Status(HTTPStatus(err)).JSON(ErrorBody(err))
	}
	return c.JSON(fiber.Map{
		"amount":         quote.Amount,
		"fee":            quote.Fee,
		"total_with_fee": quote.TotalWithFee,
	})
}

// ExecuteTransfer moves funds between two accounts.
func (h *Handler) ExecuteTransfer(c *fiber.Ctx) error {
	var req transferBody
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.provider.ExecuteTransfer(c.UserContext(), TransferInput{
		Source:           req.Source,
		Amount:           req.Amount,
		DestinationPhone: req.DestinationPhone,
		DestinationRIB:   req.DestinationRIB,
	})
	if err != nil {
		return c.Status(HTTPStatus(err)).JSON(ErrorBody(err))
	}
	return c.Status(http.StatusCreated).JSON(recordBody(rec))
}

// CashIn credits a wallet from an external source.
func (h *Handler) CashIn(c *fiber.Ctx) error {
	return h.cash(c, h.provider.CashIn)
}

// CashOut debits a wallet toward an external destination.
func (h *Handler) CashOut(c *fiber.Ctx) error {
	return h.cash(c, h.provider.CashOut)
}

func (h *Handler) cash(c *fiber.Ctx, op func(context.Context, CashInput) (Record, error)) error {
	var req cashBody
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	rec, err := op(c.UserContext(), CashInput{
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Method:    req.Method,
	})
	if err != nil {
		return c.Status(HTTPStatus(err)).JSON(ErrorBody(err))
	}
	return c.Status(http.StatusCreated).JSON(recordBody(rec))
}

func recordBody(rec Record) fiber.Map {
	return fiber.Map{
		"transaction_id": rec.TransactionID,
		"reference":      rec.Reference,
		"kind":           rec.Kind,
		"amount":         rec.Amount,
		"fee":            rec.Fee,
		"total":          rec.Total,
		"status":         rec.Status,
		"timestamp":      rec.Timestamp,
	}
}
