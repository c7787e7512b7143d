package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/storefront/service-coupon/internal/application"
	"github.com/storefront/service-coupon/internal/platform/auth"
	"github.com/storefront/service-coupon/internal/platform/middleware"
	"github.com/storefront/service-coupon/internal/platform/response"
)

// AdminService reconciles coupons that issuance could not attribute.
type AdminService interface {
	ListOrphans(ctx context.Context, limit int) ([]*application.CouponDTO, error)
	AssignBuyer(ctx context.Context, instanceID, buyerID uuid.UUID) (*application.CouponDTO, error)
	InspectCoupon(ctx context.Context, code string) (*application.CouponDetailDTO, error)
}

// AdminCouponHandler handles admin HTTP requests for coupon management.
type AdminCouponHandler struct {
	service AdminService
}

// NewAdminCouponHandler creates a new AdminCouponHandler.
func NewAdminCouponHandler(service AdminService) *AdminCouponHandler {
	return &AdminCouponHandler{service: service}
}

// RegisterRoutes registers admin coupon routes.
func (h *AdminCouponHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	admin := r.Group("/admin/coupons")
	admin.Use(authMW, adminRole)
	{
		admin.GET("/orphans", h.ListOrphans)
		admin.GET("/code/:code", h.InspectCoupon)
		admin.POST("/:id/assign", h.AssignBuyer)
	}
}

// ListOrphans handles GET /api/v1/admin/coupons/orphans.
func (h *AdminCouponHandler) ListOrphans(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	result, err := h.service.ListOrphans(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// InspectCoupon handles GET /api/v1/admin/coupons/code/:code.
func (h *AdminCouponHandler) InspectCoupon(c *gin.Context) {
	result, err := h.service.InspectCoupon(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// AssignBuyer handles POST /api/v1/admin/coupons/:id/assign.
func (h *AdminCouponHandler) AssignBuyer(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid coupon ID")
		return
	}

	var req application.AssignBuyerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.AssignBuyer(c.Request.Context(), instanceID, req.BuyerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
