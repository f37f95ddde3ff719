package report

import (
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/billingops/internal/batch"
)

const dateTimeLayout = "02/01/2006 15:04:05"

var headerText = props.Text{Style: fontstyle.Bold, Size: 9}

// BatchPDF renders a batch run summary followed by one line per row.
func BatchPDF(snap batch.Snapshot) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Página {current} de {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Relatório de lote "+snap.ID, props.Text{
			Size:  16,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	finished := "-"
	if snap.FinishedAt != nil {
		finished = snap.FinishedAt.In(time.Local).Format(dateTimeLayout)
	}
	m.AddRow(24,
		col.New(6).Add(
			text.New("Status: "+string(snap.Status), props.Text{Top: 0}),
			text.New("Início: "+snap.StartedAt.In(time.Local).Format(dateTimeLayout), props.Text{Top: 5}),
			text.New("Fim: "+finished, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New(fmt.Sprintf("Linhas: %d", snap.Total), props.Text{Top: 0}),
			text.New(fmt.Sprintf("Processadas: %d", snap.Processed), props.Text{Top: 5}),
			text.New(fmt.Sprintf("Sucesso: %d  Falha: %d", snap.Succeeded, snap.Failed), props.Text{Top: 10}),
		),
	)

	m.AddRow(8,
		text.NewCol(1, "Linha", headerText),
		text.NewCol(2, "Fatura", headerText),
		text.NewCol(2, "Ação", headerText),
		text.NewCol(1, "OK", headerText),
		text.NewCol(6, "Mensagem", headerText),
	)

	for _, res := range snap.Results {
		ok := "não"
		if res.OK {
			ok = "sim"
		}
		m.AddRow(7,
			text.NewCol(1, fmt.Sprintf("%d", res.Line), props.Text{Size: 8}),
			text.NewCol(2, fmt.Sprintf("%d", res.ID), props.Text{Size: 8}),
			text.NewCol(2, string(res.Action), props.Text{Size: 8}),
			text.NewCol(1, ok, props.Text{Size: 8}),
			text.NewCol(6, res.Message, props.Text{Size: 8}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
