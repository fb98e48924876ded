package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rovshanmuradov/keycurve/internal/bonding"
	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/engine"
	"github.com/rovshanmuradov/keycurve/internal/launch"
	"github.com/rovshanmuradov/keycurve/internal/storage"
)

// ActivateRequest opens a curve. For user curves the owner is the acting user.
type ActivateRequest struct {
	OwnerType domain.OwnerType `json:"ownerType" binding:"required,oneof=user project"`
	OwnerID   string           `json:"ownerId" binding:"omitempty,max=128"`
	Mode      domain.State     `json:"mode" binding:"omitempty,oneof=active utility"`
}

// BuyRequest amounts are key units, or lamports when solDenominated is set.
type BuyRequest struct {
	Amount         uint64 `json:"amount" binding:"required,gt=0"`
	SolDenominated bool   `json:"solDenominated"`
	ReferrerID     string `json:"referrerId" binding:"omitempty,max=128"`
	MaxCost        uint64 `json:"maxCost"`
}

// SellRequest sells key units.
type SellRequest struct {
	Keys        uint64 `json:"keys" binding:"required,gt=0"`
	MinProceeds uint64 `json:"minProceeds"`
}

// QuoteQuery is bound from the query string.
type QuoteQuery struct {
	Side           bonding.Side `form:"side" binding:"required,oneof=buy sell"`
	Amount         uint64       `form:"amount" binding:"required,gt=0"`
	SolDenominated bool         `form:"sol"`
	HasReferrer    bool         `form:"referrer"`
}

// ClaimRequest names the wallet that receives the airdrop.
type ClaimRequest struct {
	Recipient string `json:"recipient" binding:"required,solana_pubkey"`
}

type pageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

type listCurvesQuery struct {
	State domain.State `form:"state" binding:"omitempty,oneof=active frozen launched utility"`
	pageQuery
}

type listEventsQuery struct {
	Type  domain.EventType `form:"type"`
	Limit int              `form:"limit" binding:"omitempty,min=1,max=500"`
}

type statsQuery struct {
	Top int `form:"top" binding:"omitempty,min=1,max=100"`
}

func (s *Server) activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondWithError(c, invalidInput(err))
		return
	}
	ownerID := req.OwnerID
	if req.OwnerType == domain.OwnerUser {
		if ownerID != "" && ownerID != actingUser(c) {
			s.respondWithError(c, domain.NewError(domain.KindForbidden, "users may only activate their own curve", nil))
			return
		}
		ownerID = actingUser(c)
	}

	res, err := s.engine.Activate(c.Request.Context(), engine.ActivateRequest{
		OwnerType: req.OwnerType,
		OwnerID:   ownerID,
		State:     req.Mode,
	})
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) getCurve(c *gin.Context) {
	curve, err := s.engine.GetCurve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, curve)
}

func (s *Server) listCurves(c *gin.Context) {
	var q listCurvesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondWithError(c, invalidInput(err))
		return
	}
	f := storage.CurveFilter{Limit: q.Limit, Offset: q.Offset}
	if q.State != "" {
		f.States = []domain.State{q.State}
	}
	curves, err := s.engine.ListCurves(c.Request.Context(), f)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"curves": curves})
}

func (s *Server) quote(c *gin.Context) {
	var q QuoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondWithError(c, invalidInput(err))
		return
	}
	res, err := s.engine.Quote(c.Request.Context(), engine.QuoteRequest{
		CurveID:        c.Param("id"),
		Side:           q.Side,
		Amount:         q.Amount,
		SolDenominated: q.SolDenominated,
		HasReferrer:    q.HasReferrer,
	})
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) buy(c *gin.Context) {
	var req BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondWithError(c, invalidInput(err))
		return
	}
	res, err := s.engine.Buy(c.Request.Context(), engine.BuyRequest{
		CurveID:        c.Param("id"),
		UserID:         actingUser(c),
		Amount:         req.Amount,
		SolDenominated: req.SolDenominated,
		ReferrerID:     req.ReferrerID,
		MaxCost:        req.MaxCost,
	})
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) sell(c *gin.Context) {
	var req SellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondWithError(c, invalidInput(err))
		return
	}
	res, err := s.engine.Sell(c.Request.Context(), engine.SellRequest{
		CurveID:     c.Param("id"),
		UserID:      actingUser(c),
		Keys:        req.Keys,
		MinProceeds: req.MinProceeds,
	})
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listHolders(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondWithError(c, invalidInput(err))
		return
	}
	holders, err := s.engine.GetHoldersForCurve(c.Request.Context(), c.Param("id"), q.Limit, q.Offset)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holders": holders})
}

func (s *Server) getHolder(c *gin.Context) {
	h, err := s.engine.GetHolder(c.Request.Context(), c.Param("id"), c.Param("userId"))
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) listHoldings(c *gin.Context) {
	hs, err := s.engine.ListHoldings(c.Request.Context(), c.Param("userId"))
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holdings": hs})
}

func (s *Server) listEvents(c *gin.Context) {
	var q listEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondWithError(c, invalidInput(err))
		return
	}
	if _, err := s.engine.GetCurve(c.Request.Context(), c.Param("id")); err != nil {
		s.respondWithError(c, err)
		return
	}
	f := storage.EventFilter{Limit: q.Limit, Newest: true}
	if q.Type != "" {
		f.Types = []domain.EventType{q.Type}
	}
	evs, err := s.engine.ListEvents(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) marketStats(c *gin.Context) {
	var q statsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.respondWithError(c, invalidInput(err))
		return
	}
	if q.Top == 0 {
		q.Top = 10
	}
	ms, err := s.engine.Stats().MarketStats(c.Request.Context(), c.Param("id"), q.Top)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ms)
}

func (s *Server) getSnapshot(c *gin.Context) {
	snap, err := s.engine.GetLaunchSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) freeze(c *gin.Context) {
	res, err := s.engine.Freeze(c.Request.Context(), c.Param("id"), actingUser(c))
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) launch(c *gin.Context) {
	var params launch.TokenParams
	if err := c.ShouldBindJSON(&params); err != nil {
		s.respondWithError(c, invalidInput(err))
		return
	}
	res, err := s.engine.Launch(c.Request.Context(), c.Param("id"), actingUser(c), params)
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) claimAirdrop(c *gin.Context) {
	var req ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondWithError(c, invalidInput(err))
		return
	}
	claim, err := s.engine.ClaimAirdrop(c.Request.Context(), engine.ClaimRequest{
		CurveID:   c.Param("id"),
		UserID:    actingUser(c),
		Recipient: req.Recipient,
	})
	if err != nil {
		s.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, claim)
}
