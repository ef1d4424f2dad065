package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"

	"affiliate-finance/pkg/db/pagination"
	"affiliate-finance/pkg/errutil"
	"affiliate-finance/pkg/health"
	"affiliate-finance/pkg/middleware"
	"affiliate-finance/services/finance"
	"affiliate-finance/services/payment"
)

var Module = fx.Module("httpapi", fx.Provide(ProvideRouter))

type RouterParams struct {
	fx.In
	Finance *finance.Service
	Payment *payment.Service
	Health  health.HealthService
}

// ProvideRouter builds the gin handler exposing the finance and payment
// entry points.
func ProvideRouter(p RouterParams) http.Handler {
	h := &handler{finance: p.Finance, payment: p.Payment}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.Error())

	router.GET("/healthz/liveness", p.Health.Liveness)
	router.GET("/healthz/readiness", p.Health.Readiness)

	v1 := router.Group("/v1")
	{
		v1.POST("/commissions", h.registerCommission)
		v1.POST("/sales/:sale_id/commission", h.postSaleCommission)

		v1.GET("/affiliates/:affiliate_id/balance", h.getBalance)
		v1.GET("/affiliates/:affiliate_id/transactions", h.listTransactions)

		v1.POST("/withdrawals", h.createWithdrawal)
		v1.GET("/withdrawals", h.listWithdrawals)
		v1.GET("/withdrawals/:request_id", h.getWithdrawal)
		v1.POST("/withdrawals/:request_id/process", h.processWithdrawal)

		v1.GET("/reports/financial", h.financialReport)

		v1.POST("/payments", h.createPayment)
		v1.GET("/payments/transactions", h.listPaymentTransactions)
		v1.GET("/payments/transactions/:transaction_id", h.getPaymentTransaction)
		v1.GET("/orders/:order_id/payments", h.getOrderPayments)

		v1.PUT("/gateways", h.configureGateway)
		v1.GET("/gateways", h.listGateways)
		v1.POST("/webhooks/:gateway", h.processWebhook)
	}

	return router
}

type handler struct {
	finance *finance.Service
	payment *payment.Service
}

// parseTime accepts RFC3339 timestamps or plain dates.
func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return &ts, nil
	}
	ts, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, errutil.ValidationFailed("invalid date: "+value, err)
	}
	return &ts, nil
}

type registerCommissionRequest struct {
	AffiliateID string          `json:"affiliate_id" binding:"required"`
	SaleID      string          `json:"sale_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	OrderID     string          `json:"order_id"`
}

func (h *handler) registerCommission(c *gin.Context) {
	var req registerCommissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}

	entry, err := h.finance.RegisterCommission(c.Request.Context(), req.AffiliateID, req.SaleID, req.Amount, req.OrderID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *handler) postSaleCommission(c *gin.Context) {
	entry, err := h.finance.UpdateBalanceFromSale(c.Request.Context(), c.Param("sale_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *handler) getBalance(c *gin.Context) {
	balance, err := h.finance.GetOrCreateBalance(c.Request.Context(), c.Param("affiliate_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

type listTransactionsQuery struct {
	Type      string `form:"type"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	pagination.Pagination
}

func (h *handler) listTransactions(c *gin.Context) {
	var query listTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.Error(errutil.ValidationFailed("invalid query parameters", err))
		return
	}

	filter := finance.TransactionFilter{Type: query.Type, Pagination: query.Pagination}
	var err error
	if filter.StartDate, err = parseTime(query.StartDate); err != nil {
		c.Error(err)
		return
	}
	if filter.EndDate, err = parseTime(query.EndDate); err != nil {
		c.Error(err)
		return
	}

	items, total, err := h.finance.ListTransactions(c.Request.Context(), c.Param("affiliate_id"), filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "total": total})
}

type createWithdrawalRequest struct {
	AffiliateID    string          `json:"affiliate_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentDetails string          `json:"payment_details"`
}

func (h *handler) createWithdrawal(c *gin.Context) {
	var req createWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}

	request, err := h.finance.CreateWithdrawalRequest(c.Request.Context(), req.AffiliateID, req.Amount, req.PaymentMethod, req.PaymentDetails)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

type listWithdrawalsQuery struct {
	AffiliateID string `form:"affiliate_id"`
	Status      string `form:"status"`
	pagination.Pagination
}

func (h *handler) listWithdrawals(c *gin.Context) {
	var query listWithdrawalsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.Error(errutil.ValidationFailed("invalid query parameters", err))
		return
	}

	items, total, err := h.finance.ListWithdrawalRequests(c.Request.Context(), finance.WithdrawalFilter{
		AffiliateID: query.AffiliateID,
		Status:      query.Status,
		Pagination:  query.Pagination,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "total": total})
}

func (h *handler) getWithdrawal(c *gin.Context) {
	request, err := h.finance.GetWithdrawalRequest(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, request)
}

type processWithdrawalRequest struct {
	Status     string `json:"status" binding:"required"`
	AdminNotes string `json:"admin_notes"`
}

func (h *handler) processWithdrawal(c *gin.Context) {
	var req processWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}

	request, err := h.finance.ProcessWithdrawalRequest(c.Request.Context(), c.Param("request_id"), req.Status, req.AdminNotes)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, request)
}

func (h *handler) financialReport(c *gin.Context) {
	start, err := parseTime(c.Query("start_date"))
	if err != nil {
		c.Error(err)
		return
	}
	end, err := parseTime(c.Query("end_date"))
	if err != nil {
		c.Error(err)
		return
	}

	var from, to time.Time
	if start != nil {
		from = *start
	}
	if end != nil {
		to = *end
	}

	report, err := h.finance.GenerateReport(c.Request.Context(), c.Query("affiliate_id"), from, to)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type createPaymentRequest struct {
	Gateway       string                  `json:"gateway" binding:"required"`
	OrderID       string                  `json:"order_id" binding:"required"`
	Amount        decimal.Decimal         `json:"amount"`
	PaymentMethod string                  `json:"payment_method" binding:"required"`
	Customer      payment.CustomerDetails `json:"customer"`
}

func (h *handler) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}

	result, err := h.payment.ProcessPayment(c.Request.Context(), req.Gateway, req.OrderID, req.Amount, req.PaymentMethod, req.Customer)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type listPaymentsQuery struct {
	Status    string `form:"status"`
	Gateway   string `form:"gateway"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	pagination.Pagination
}

func (h *handler) listPaymentTransactions(c *gin.Context) {
	var query listPaymentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.Error(errutil.ValidationFailed("invalid query parameters", err))
		return
	}

	filter := payment.TransactionFilter{
		Status:     query.Status,
		Gateway:    query.Gateway,
		Pagination: query.Pagination,
	}
	var err error
	if filter.StartDate, err = parseTime(query.StartDate); err != nil {
		c.Error(err)
		return
	}
	if filter.EndDate, err = parseTime(query.EndDate); err != nil {
		c.Error(err)
		return
	}

	items, total, err := h.payment.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "total": total})
}

func (h *handler) getPaymentTransaction(c *gin.Context) {
	transaction, err := h.payment.GetTransaction(c.Request.Context(), c.Param("transaction_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, transaction)
}

func (h *handler) getOrderPayments(c *gin.Context) {
	items, err := h.payment.GetTransactionsByOrder(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

type configureGatewayRequest struct {
	GatewayName   string         `json:"gateway_name" binding:"required"`
	APIKey        string         `json:"api_key" binding:"required"`
	APISecret     string         `json:"api_secret"`
	WebhookSecret string         `json:"webhook_secret"`
	Configuration map[string]any `json:"configuration"`
}

func (h *handler) configureGateway(c *gin.Context) {
	var req configureGatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}

	config, err := h.payment.ConfigureGateway(c.Request.Context(), req.GatewayName, req.APIKey, req.APISecret, req.WebhookSecret, req.Configuration)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, config)
}

func (h *handler) listGateways(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.payment.Supported()})
}

func (h *handler) processWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Error(errutil.ValidationFailed("failed to read webhook payload", err))
		return
	}

	result, err := h.payment.ProcessWebhook(c.Request.Context(), c.Param("gateway"), payload, c.Request.Header)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
