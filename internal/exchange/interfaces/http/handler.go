// Package http 交易所 HTTP 接口
package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wyfcoding/grandexchange/internal/cooldown"
	"github.com/wyfcoding/grandexchange/internal/exchange/application"
	"github.com/wyfcoding/grandexchange/internal/exchange/domain"
	"github.com/wyfcoding/grandexchange/internal/exchange/infrastructure/account"
	"github.com/wyfcoding/grandexchange/pkg/logger"
)

const defaultTradeLimit = 50

// ExchangeHandler HTTP 处理器
type ExchangeHandler struct {
	exchange *application.Exchange
	admin    bool
}

// Option 处理器选项
type Option func(*ExchangeHandler)

// WithAdminRoutes 开启注资、手动维护与快照接口
func WithAdminRoutes(enabled bool) Option {
	return func(h *ExchangeHandler) { h.admin = enabled }
}

// NewExchangeHandler 创建 HTTP 处理器，管理接口默认不注册
func NewExchangeHandler(exchange *application.Exchange, opts ...Option) *ExchangeHandler {
	h := &ExchangeHandler{exchange: exchange}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes 注册路由
func (h *ExchangeHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/exchange")
	{
		players := api.Group("/players/:player")
		players.GET("/account", h.GetAccount)
		players.POST("/collect", h.Collect)
		players.GET("/notifications", h.GetNotifications)
		players.GET("/cooldowns", h.GetCooldowns)
		players.GET("/trades", h.GetPlayerTrades)
		players.GET("/stats", h.GetPlayerStats)
		players.GET("/watches", h.GetWatches)
		players.POST("/watches", h.WatchPrice)

		players.POST("/buy-orders", h.CreateBuyOrder)
		players.POST("/buy-orders/:slot/enable", h.toggle(application.SideBuy, actionEnable))
		players.POST("/buy-orders/:slot/disable", h.toggle(application.SideBuy, actionDisable))
		players.POST("/buy-orders/:slot/cancel", h.toggle(application.SideBuy, actionCancel))
		players.DELETE("/buy-orders/:slot", h.clearSlot(application.SideBuy))

		players.POST("/sell-offers", h.CreateSellOffer)
		players.POST("/sell-offers/:slot/enable", h.toggle(application.SideSell, actionEnable))
		players.POST("/sell-offers/:slot/disable", h.toggle(application.SideSell, actionDisable))
		players.POST("/sell-offers/:slot/cancel", h.toggle(application.SideSell, actionCancel))
		players.DELETE("/sell-offers/:slot", h.clearSlot(application.SideSell))
		players.POST("/offers/:offer/buy", h.BuyFromOffer)

		items := api.Group("/items/:item")
		items.GET("/depth", h.GetDepth)
		items.GET("/summary", h.GetSummary)
		items.GET("/trades", h.GetItemTrades)

		api.GET("/items", h.ListItems)
		api.GET("/listings", h.GetListings)
		api.GET("/trades", h.GetRecentTrades)
		api.GET("/market/stats", h.GetMarketStats)
		api.GET("/market/suspicious", h.GetSuspicious)
		api.GET("/market/report", h.GetMarketReport)

		if h.admin {
			players.POST("/deposit", h.Deposit)
			api.POST("/admin/maintenance", h.RunMaintenance)
			api.POST("/admin/snapshot", h.SaveSnapshot)
		}
	}
}

type toggleAction int

const (
	actionEnable toggleAction = iota
	actionDisable
	actionCancel
)

// OrderRequest 挂单请求
type OrderRequest struct {
	Slot         int    `json:"slot"`
	ItemID       string `json:"item_id" binding:"required"`
	Quantity     int64  `json:"quantity" binding:"required"`
	PricePerItem int64  `json:"price_per_item" binding:"required"`
	Days         int    `json:"days"`
}

// DepositRequest 注资请求
type DepositRequest struct {
	Coins int64            `json:"coins"`
	Items map[string]int64 `json:"items"`
}

// BuyRequest 直接购买请求，quantity 为 0 时买下全部剩余
type BuyRequest struct {
	Quantity int64 `json:"quantity"`
}

// WatchRequest 价格提醒请求
type WatchRequest struct {
	ItemID      string `json:"item_id" binding:"required"`
	TargetPrice int64  `json:"target_price" binding:"required"`
	Side        string `json:"side"`
}

// CreateBuyOrder 创建买单
func (h *ExchangeHandler) CreateBuyOrder(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.exchange.CreateBuyOrder(c.Request.Context(), application.CreateBuyOrderCommand{
		PlayerAuth:   player,
		Slot:         req.Slot,
		ItemID:       req.ItemID,
		Quantity:     req.Quantity,
		PricePerItem: req.PricePerItem,
		Days:         req.Days,
	})
	if err != nil {
		respondError(c, "Failed to create buy order", err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// CreateSellOffer 创建卖单
func (h *ExchangeHandler) CreateSellOffer(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	var req OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	offer, err := h.exchange.CreateSellOffer(c.Request.Context(), application.CreateSellOfferCommand{
		PlayerAuth:   player,
		Slot:         req.Slot,
		ItemID:       req.ItemID,
		Quantity:     req.Quantity,
		PricePerItem: req.PricePerItem,
	})
	if err != nil {
		respondError(c, "Failed to create sell offer", err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

func (h *ExchangeHandler) toggle(side application.Side, action toggleAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		player, ok := playerParam(c)
		if !ok {
			return
		}
		slot, ok := slotParam(c)
		if !ok {
			return
		}

		ctx := c.Request.Context()
		var (
			report application.MatchReport
			err    error
		)
		switch {
		case side == application.SideBuy && action == actionEnable:
			report, err = h.exchange.EnableBuyOrder(ctx, player, slot)
		case side == application.SideBuy && action == actionDisable:
			report, err = h.exchange.DisableBuyOrder(ctx, player, slot)
		case side == application.SideBuy:
			report, err = h.exchange.CancelBuyOrder(ctx, player, slot)
		case action == actionEnable:
			report, err = h.exchange.EnableSellOffer(ctx, player, slot)
		case action == actionDisable:
			report, err = h.exchange.DisableSellOffer(ctx, player, slot)
		default:
			report, err = h.exchange.CancelSellOffer(ctx, player, slot)
		}
		if err != nil {
			respondError(c, "Failed to update order", err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func (h *ExchangeHandler) clearSlot(side application.Side) gin.HandlerFunc {
	return func(c *gin.Context) {
		player, ok := playerParam(c)
		if !ok {
			return
		}
		slot, ok := slotParam(c)
		if !ok {
			return
		}
		report, err := h.exchange.ClearSlot(c.Request.Context(), player, side, slot)
		if err != nil {
			respondError(c, "Failed to clear slot", err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// BuyFromOffer 按标价直接购买在售卖单
func (h *ExchangeHandler) BuyFromOffer(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	offerID, err := strconv.ParseInt(c.Param("offer"), 10, 64)
	if err != nil || offerID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offer"})
		return
	}
	var req BuyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	report, err := h.exchange.BuyFromOffer(c.Request.Context(), player, offerID, req.Quantity)
	if err != nil {
		respondError(c, "Failed to buy from offer", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetAccount 账户视图
func (h *ExchangeHandler) GetAccount(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.exchange.Account(c.Request.Context(), player))
}

// Deposit 注资
func (h *ExchangeHandler) Deposit(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := application.DepositCommand{PlayerAuth: player, Coins: req.Coins, Items: req.Items}
	if err := h.exchange.Deposit(c.Request.Context(), cmd); err != nil {
		respondError(c, "Failed to deposit", err)
		return
	}
	c.JSON(http.StatusOK, h.exchange.Account(c.Request.Context(), player))
}

// Collect 领取物品
func (h *ExchangeHandler) Collect(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	collected := h.exchange.CollectItems(c.Request.Context(), player, c.Query("item_id"))
	c.JSON(http.StatusOK, gin.H{"collected": collected})
}

// GetNotifications 玩家通知，clear=true 时读取后清空
func (h *ExchangeHandler) GetNotifications(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	drain := c.Query("clear") == "true"
	c.JSON(http.StatusOK, gin.H{"notifications": h.exchange.Notifications(player, drain)})
}

func (h *ExchangeHandler) GetCooldowns(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"cooldowns": h.exchange.Cooldowns(player)})
}

func (h *ExchangeHandler) GetPlayerTrades(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": h.exchange.PlayerTrades(player, limitParam(c))})
}

func (h *ExchangeHandler) GetPlayerStats(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.exchange.PlayerStats(player))
}

func (h *ExchangeHandler) GetWatches(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"watches": h.exchange.Watches(player)})
}

// WatchPrice 登记价格提醒
func (h *ExchangeHandler) WatchPrice(c *gin.Context) {
	player, ok := playerParam(c)
	if !ok {
		return
	}
	var req WatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := h.exchange.WatchPrice(c.Request.Context(), application.WatchPriceCommand{
		PlayerAuth:  player,
		ItemID:      req.ItemID,
		TargetPrice: req.TargetPrice,
		Side:        application.Side(req.Side),
	})
	if err != nil {
		respondError(c, "Failed to register price watch", err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// GetDepth 买卖盘深度
func (h *ExchangeHandler) GetDepth(c *gin.Context) {
	c.JSON(http.StatusOK, h.exchange.MarketDepth(c.Param("item")))
}

// GetSummary 行情摘要
func (h *ExchangeHandler) GetSummary(c *gin.Context) {
	summary, err := h.exchange.MarketSummary(c.Param("item"))
	if err != nil {
		respondError(c, "Failed to get market summary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *ExchangeHandler) GetItemTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": h.exchange.RecentTrades(c.Param("item"), limitParam(c))})
}

func (h *ExchangeHandler) ListItems(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.exchange.Items()})
}

// GetListings 在售卖单浏览，支持 filter、sort、page、page_size
func (h *ExchangeHandler) GetListings(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("page_size"))
	c.JSON(http.StatusOK, h.exchange.MarketListings(application.ListingQuery{
		Filter:   c.Query("filter"),
		Sort:     application.ListingSort(c.Query("sort")),
		Page:     page,
		PageSize: size,
	}))
}

func (h *ExchangeHandler) GetRecentTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": h.exchange.RecentTrades("", limitParam(c))})
}

func (h *ExchangeHandler) GetMarketStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.exchange.MarketStats())
}

func (h *ExchangeHandler) GetSuspicious(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"trades": h.exchange.SuspiciousTrades()})
}

// GetMarketReport 运行报告，未启用性能监控时返回 404
func (h *ExchangeHandler) GetMarketReport(c *gin.Context) {
	report, ok := h.exchange.MarketReport()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "performance monitoring disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report, "summary": report.String()})
}

// RunMaintenance 手动触发一轮维护
func (h *ExchangeHandler) RunMaintenance(c *gin.Context) {
	c.JSON(http.StatusOK, h.exchange.RunMaintenance(c.Request.Context()))
}

// SaveSnapshot 手动保存快照
func (h *ExchangeHandler) SaveSnapshot(c *gin.Context) {
	if err := h.exchange.SaveSnapshot(c.Request.Context()); err != nil {
		logger.Error(c.Request.Context(), "Failed to save snapshot", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": true})
}

func playerParam(c *gin.Context) (int64, bool) {
	player, err := strconv.ParseInt(c.Param("player"), 10, 64)
	if err != nil || player <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid player"})
		return 0, false
	}
	return player, true
}

func slotParam(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot"})
		return 0, false
	}
	return slot, true
}

func limitParam(c *gin.Context) int {
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n > 0 {
		return n
	}
	return defaultTradeLimit
}

// respondError 按错误类别映射状态码，非预期错误记录日志
func respondError(c *gin.Context, msg string, err error) {
	var denied *cooldown.DeniedError
	switch {
	case errors.As(err, &denied):
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(denied.Remaining.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "remaining_ms": denied.Remaining.Milliseconds()})
		return
	case errors.Is(err, application.ErrUnknownItem),
		errors.Is(err, application.ErrPriceOutOfRange),
		errors.Is(err, application.ErrQuantityOutOfRange),
		errors.Is(err, application.ErrDurationOutOfRange),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, account.ErrInvalidSlot),
		errors.Is(err, account.ErrInvalidAmount),
		errors.Is(err, account.ErrOverflow):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, account.ErrSlotEmpty),
		errors.Is(err, application.ErrOfferNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, account.ErrSlotOccupied),
		errors.Is(err, application.ErrOrderLive),
		errors.Is(err, application.ErrSlotChanged),
		errors.Is(err, application.ErrOrderExpired),
		errors.Is(err, application.ErrOwnOffer),
		errors.Is(err, application.ErrPurchaseFailed),
		errors.Is(err, application.ErrWatchLimit),
		errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, account.ErrInsufficientFunds),
		errors.Is(err, account.ErrInsufficientItems):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	logger.Error(c.Request.Context(), msg, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
