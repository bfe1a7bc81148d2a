package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/gridleaf/cellgauge/internal/ledger/domain"
)

func (s *Server) GetBalance(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (s *Server) ListLedgerEntries(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit, offset, err := parsePagination(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	kind := strings.TrimSpace(c.Query("kind"))
	switch kind {
	case "", ledgerdomain.KindPurchase, ledgerdomain.KindUsage, ledgerdomain.KindRefund:
	default:
		AbortWithError(c, newValidationError("kind", "invalid_kind", "unknown ledger kind"))
		return
	}

	entries, err := s.ledgerSvc.ListEntries(c.Request.Context(), ledgerdomain.ListEntriesFilter{
		AccountID: id,
		Kind:      kind,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
