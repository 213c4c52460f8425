package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/mestredigital/creditos/internal/ledger/domain"
	"github.com/mestredigital/creditos/internal/providers/pdf"
	"github.com/mestredigital/creditos/pkg/db/pagination"
)

const statementMaxEntries = 500

// AdminStatementPDF renders a user's recent ledger activity as a PDF.
func (s *Server) AdminStatementPDF(c *gin.Context) {
	ctx := c.Request.Context()
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		AbortWithError(c, ledgerdomain.ErrInvalidUser)
		return
	}

	balance, err := s.ledgerSvc.GetBalance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{
		Pagination: pagination.Pagination{PageSize: statementMaxEntries},
		UserID:     userID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	data := pdf.StatementData{
		UserID:      userID,
		GeneratedAt: time.Now().UTC().Format("02/01/2006 15:04"),
		Balance:     formatCredits(balance.Balance),
		Available:   formatCredits(balance.Available),
		Entries:     make([]pdf.StatementEntry, 0, len(resp.Transactions)),
	}
	for _, txn := range resp.Transactions {
		description := txn.Description
		if description == "" {
			description = txn.ToolID
		}
		data.Entries = append(data.Entries, pdf.StatementEntry{
			Date:         txn.CreatedAt.Format("02/01/2006 15:04"),
			Description:  description,
			Kind:         string(txn.Kind),
			Amount:       formatCredits(txn.Amount),
			BalanceAfter: formatCredits(txn.BalanceAfter),
		})
	}

	reader, err := s.pdfProvider.GenerateStatement(ctx, data)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "extrato-"+userID+".pdf"))
	c.DataFromReader(http.StatusOK, -1, "application/pdf", reader, nil)
}

func formatCredits(amount int64) string {
	return fmt.Sprintf("%d", amount)
}
