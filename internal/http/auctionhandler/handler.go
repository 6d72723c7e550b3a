package auctionhandler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"townmarket/internal/marketplace"
	"townmarket/internal/services/bidding"
	"townmarket/internal/services/settlement"
)

type Handler struct {
	bids       bidding.IBiddingService
	settlement settlement.ISettlementService
}

func New(bids bidding.IBiddingService, stl settlement.ISettlementService) *Handler {
	return &Handler{bids: bids, settlement: stl}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/auctions", h.list)
	r.GET("/auctions/:id", h.info)
	r.POST("/auctions", h.host)
	r.POST("/auctions/:id/close", h.close)
	r.POST("/auctions/:id/expire_winner", h.expireWinner)
	r.POST("/listings/:id/bid", h.bid)
	r.GET("/listings/:id/auction", h.view)
	r.POST("/orders/:id/paid", h.orderPaid)
}

// @Summary		Place a bid
// @Description	Places a bid on a listing's auction. A rejected bid reports the current minimum acceptable amount.
// @Tags			Bidding
// @Param			id		path	string			true	"Listing ID"	default(lst123)
// @Param			body	body	PlaceBidBody	true	"Bid payload"
// @Success		202	{object}	bidding.Receipt
// @Failure		403	{object}	ErrorResponse
// @Failure		409	{object}	ErrorResponse
// @Failure		429	{object}	ErrorResponse
// @Router			/listings/{id}/bid [post]
func (h *Handler) bid(ginCtx *gin.Context) {
	var body PlaceBidBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}

	receipt, err := h.bids.PlaceBid(ginCtx.Request.Context(),
		ginCtx.Param("id"),
		body.BidderID,
		body.AmountCents,
		time.Now().UTC(),
	)
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusAccepted, receipt)
}

// @Summary		Current auction view for a listing
// @Description	Derived view: the highest bid is computed from the ledger on every read.
// @Tags			Bidding
// @Param			id	path		string	true	"Listing ID"	default(lst123)
// @Success		200	{object}	bidding.View
// @Failure		404	{object}	ErrorResponse
// @Router			/listings/{id}/auction [get]
func (h *Handler) view(ginCtx *gin.Context) {
	v, err := h.bids.AuctionView(ginCtx.Request.Context(), ginCtx.Param("id"))
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, v)
}

// @Summary		Host an auction
// @Description	Opens a bidding window for a listing. Requires trusted tier.
// @Tags			Auctions
// @Param			body	body	HostAuctionBody	true	"Auction payload"
// @Success		201	{object}	map[string]string
// @Failure		400	{object}	ErrorResponse
// @Failure		403	{object}	ErrorResponse
// @Router			/auctions [post]
func (h *Handler) host(ginCtx *gin.Context) {
	var body HostAuctionBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	now := time.Now().UTC()
	if !body.EndsAt.After(now) {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: "ends_at must be in the future"})
		return
	}

	id, err := h.bids.HostAuction(ginCtx.Request.Context(), body.HostID, bidding.HostParams{
		ListingID:         body.ListingID,
		EndAt:             body.EndsAt.UTC(),
		StartBidCents:     body.StartBidCents,
		MinIncrementCents: body.MinIncrementCents,
		ReserveCents:      body.ReserveCents,
		BuyNowCents:       body.BuyNowCents,
	}, now)
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusCreated, gin.H{"auction_id": id})
}

// @Summary		Get auction details
// @Tags			Auctions
// @Param			id	path		string	true	"Auction ID"	default(auc123)
// @Success		200	{object}	AuctionDTO
// @Failure		404	{object}	ErrorResponse
// @Router			/auctions/{id} [get]
func (h *Handler) info(ginCtx *gin.Context) {
	a, err := h.bids.GetAuction(ginCtx.Request.Context(), ginCtx.Param("id"))
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, toAuctionDTO(a))
}

// @Summary		List auctions
// @Tags			Auctions
// @Param			status	query		string	false	"Status filter"			Enums(active,pending_payment,paid,ended,failed)
// @Param			limit	query		int		false	"Max results (0-100)"	minimum(0)	maximum(100)	default(10)
// @Param			offset	query		int		false	"Offset for pagination"	minimum(0)	default(0)
// @Success		200	{array}		AuctionDTO
// @Failure		400	{object}	ErrorResponse
// @Router			/auctions [get]
func (h *Handler) list(ginCtx *gin.Context) {
	var q ListAuctionsQuery
	if err := ginCtx.ShouldBindQuery(&q); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}
	auctions, err := h.bids.ListAuctions(ginCtx.Request.Context(),
		marketplace.Status(q.Status), q.Limit, q.Offset)
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	out := make([]AuctionDTO, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, toAuctionDTO(a))
	}
	ginCtx.JSON(http.StatusOK, out)
}

// @Summary		Close an ended auction
// @Description	Creates the winner's order and starts the payment window. Not idempotent: a second call gets 409.
// @Tags			Settlement
// @Param			id		path	string				true	"Auction ID"	default(auc123)
// @Param			body	body	CloseAuctionBody	true	"Caller payload"
// @Success		200	{object}	CloseResponse
// @Failure		403	{object}	ErrorResponse
// @Failure		409	{object}	ErrorResponse
// @Router			/auctions/{id}/close [post]
func (h *Handler) close(ginCtx *gin.Context) {
	var body CloseAuctionBody
	if err := ginCtx.ShouldBindJSON(&body); err != nil {
		ginCtx.JSON(http.StatusBadRequest, &ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.settlement.Close(ginCtx.Request.Context(),
		ginCtx.Param("id"), body.CallerID, time.Now().UTC())
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, CloseResponse{
		WinnerUserID: res.WinnerUserID,
		OrderID:      res.OrderID,
		TotalCents:   res.TotalCents,
		Ended:        res.WinnerUserID == "",
	})
}

// @Summary		Expire an overdue winner
// @Description	Internal/sweep-triggered: re-offers the item to the next eligible bidder or fails the auction.
// @Tags			Settlement
// @Param			id	path	string	true	"Auction ID"	default(auc123)
// @Success		200	{object}	ExpireResponse
// @Failure		409	{object}	ErrorResponse
// @Router			/auctions/{id}/expire_winner [post]
func (h *Handler) expireWinner(ginCtx *gin.Context) {
	res, err := h.settlement.ExpireWinner(ginCtx.Request.Context(),
		ginCtx.Param("id"), time.Now().UTC())
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, ExpireResponse{
		WinnerUserID: res.WinnerUserID,
		OrderID:      res.OrderID,
		TotalCents:   res.TotalCents,
		Failed:       res.Failed,
	})
}

// @Summary		Payment gateway success callback
// @Description	Marks the order paid. Idempotent; a payment for a superseded order is rejected.
// @Tags			Settlement
// @Param			id	path	string	true	"Order ID"
// @Success		204
// @Failure		404	{object}	ErrorResponse
// @Failure		409	{object}	ErrorResponse
// @Router			/orders/{id}/paid [post]
func (h *Handler) orderPaid(ginCtx *gin.Context) {
	err := h.settlement.MarkPaid(ginCtx.Request.Context(),
		ginCtx.Param("id"), time.Now().UTC())
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.Status(http.StatusNoContent)
}

// writeError maps the typed error taxonomy onto HTTP statuses. Business
// rule violations are 4xx; only storage failures surface as 5xx.
func writeError(ginCtx *gin.Context, err error) {
	var tooLow *marketplace.BidTooLowError
	if errors.As(err, &tooLow) {
		ginCtx.JSON(http.StatusConflict, &ErrorResponse{
			Error:       tooLow.Error(),
			MinBidCents: &tooLow.MinCents,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, marketplace.ErrAuctionNotFound),
		errors.Is(err, marketplace.ErrNotAnAuction),
		errors.Is(err, marketplace.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, marketplace.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, marketplace.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, marketplace.ErrAuctionEnded),
		errors.Is(err, marketplace.ErrAuctionNotEnded),
		errors.Is(err, marketplace.ErrAlreadyClosed),
		errors.Is(err, marketplace.ErrNotOverdue),
		errors.Is(err, marketplace.ErrAlreadyPaid),
		errors.Is(err, marketplace.ErrOrderSuperseded),
		errors.Is(err, marketplace.ErrInvalidTransition),
		errors.Is(err, marketplace.ErrConcurrentModification):
		status = http.StatusConflict
	}
	ginCtx.JSON(status, &ErrorResponse{Error: err.Error()})
}
