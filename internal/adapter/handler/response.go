package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/infrastructure/logger"
)

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type OrderResponse struct {
	ID             string            `json:"id"`
	BuyerID        string            `json:"buyer_id"`
	Items          []domain.LineItem `json:"items"`
	DeliveryCharge decimal.Decimal   `json:"delivery_charge"`
	DiscountCode   string            `json:"discount_code,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

func newOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:             o.ID,
		BuyerID:        o.BuyerID,
		Items:          o.Items,
		DeliveryCharge: o.DeliveryCharge,
		DiscountCode:   o.DiscountCode,
		CreatedAt:      o.CreatedAt,
	}
}

type AddressResponse struct {
	ID   string             `json:"id"`
	Role domain.AddressRole `json:"role"`
	domain.AddressFields
	UpdatedAt time.Time `json:"updated_at"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Message: message})
}

// statusFor maps service errors onto HTTP. Unknown errors are 500 and their
// text is not exposed.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrDuplicateRequest),
		errors.Is(err, service.ErrExistingUser),
		errors.Is(err, domain.ErrOptimisticLock):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrOrderCreateFailed):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrStorageDisabled):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, service.ErrProductsFetchFailed):
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *HTTPHandler) handleError(c *gin.Context, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context(), h.logger).Error("Request failed", zap.Error(err))
	}
	fail(c, status, message)
}
