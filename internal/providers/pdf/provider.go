// Package pdf renders account statements for back-office export.
package pdf

import (
	"context"
	"io"

	"go.uber.org/fx"
)

// StatementEntry is one ledger line on the rendered statement. All money
// fields arrive pre-formatted so rendering stays locale-agnostic.
type StatementEntry struct {
	Date         string
	Description  string
	Kind         string
	Amount       string
	BalanceAfter string
}

type StatementData struct {
	UserID      string
	GeneratedAt string
	Balance     string
	Available   string
	Entries     []StatementEntry
}

type Provider interface {
	GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error)
}

type PDFProvider struct{}

func NewProvider() Provider {
	return &PDFProvider{}
}

var Module = fx.Module("providers.pdf",
	fx.Provide(NewProvider),
)
