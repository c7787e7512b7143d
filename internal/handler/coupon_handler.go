package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/storefront/service-coupon/internal/application"
	"github.com/storefront/service-coupon/internal/platform/auth"
	"github.com/storefront/service-coupon/internal/platform/middleware"
	"github.com/storefront/service-coupon/internal/platform/response"
)

// RedemptionService is the checkout side of the coupon engine.
type RedemptionService interface {
	ValidateCoupon(ctx context.Context, buyerID uuid.UUID, req application.ValidateCouponRequest) (*application.ValidationResultDTO, error)
	RedeemCoupon(ctx context.Context, instanceID, orderID uuid.UUID) (*application.RedemptionDTO, error)
	GetMyCoupons(ctx context.Context, buyerID uuid.UUID) ([]*application.CouponDTO, error)
}

// CatalogService lists purchasable coupons.
type CatalogService interface {
	ListActiveTemplates(ctx context.Context) ([]*application.TemplateDTO, error)
}

// CouponHandler handles HTTP requests for buyer-facing coupon operations.
type CouponHandler struct {
	redemption RedemptionService
	catalog    CatalogService
}

// NewCouponHandler creates a new CouponHandler.
func NewCouponHandler(redemption RedemptionService, catalog CatalogService) *CouponHandler {
	return &CouponHandler{redemption: redemption, catalog: catalog}
}

// RegisterRoutes registers all coupon routes.
func (h *CouponHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	coupons := r.Group("/coupons")
	coupons.GET("/templates", h.ListTemplates)

	authed := coupons.Group("")
	authed.Use(authMW)
	{
		authed.POST("/validate", h.ValidateCoupon)
		authed.GET("/me", h.GetMyCoupons)
		authed.POST("/:id/redeem", middleware.RequireRole(auth.RoleService, auth.RoleAdmin), h.RedeemCoupon)
	}
}

// ValidateCoupon handles POST /api/v1/coupons/validate.
func (h *CouponHandler) ValidateCoupon(c *gin.Context) {
	buyerID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req application.ValidateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.redemption.ValidateCoupon(c.Request.Context(), buyerID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// RedeemCoupon handles POST /api/v1/coupons/:id/redeem.
func (h *CouponHandler) RedeemCoupon(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid coupon ID")
		return
	}

	var req application.RedeemCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.redemption.RedeemCoupon(c.Request.Context(), instanceID, req.OrderID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GetMyCoupons handles GET /api/v1/coupons/me.
func (h *CouponHandler) GetMyCoupons(c *gin.Context) {
	buyerID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	result, err := h.redemption.GetMyCoupons(c.Request.Context(), buyerID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ListTemplates handles GET /api/v1/coupons/templates.
func (h *CouponHandler) ListTemplates(c *gin.Context) {
	result, err := h.catalog.ListActiveTemplates(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}
