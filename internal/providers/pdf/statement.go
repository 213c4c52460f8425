package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

func (p *PDFProvider) GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Página {current} de {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(12, "Extrato de Créditos", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Usuário: "+data.UserID, props.Text{Top: 0}),
			text.New("Gerado em: "+data.GeneratedAt, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Saldo: "+data.Balance, props.Text{Top: 0, Align: align.Right}),
			text.New("Disponível: "+data.Available, props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(3, "Data", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Descrição", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Tipo", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(1, "Valor", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Saldo", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, entry := range data.Entries {
		m.AddRow(8,
			text.NewCol(3, entry.Date, props.Text{Size: 8}),
			text.NewCol(4, entry.Description, props.Text{Size: 8}),
			text.NewCol(2, entry.Kind, props.Text{Size: 8}),
			text.NewCol(1, entry.Amount, props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, entry.BalanceAfter, props.Text{Size: 8, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
