package reconcile

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/orientation"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// CertificateData carries the resolved values printed on a certificate.
// HolderName is the placeholder dash when the buyer identity is unknown.
type CertificateData struct {
	HolderName        string
	ProjectName       string
	AreaSqm           int64
	CertificateNumber string
	IssueDate         string
	VerifyURL         string
}

// HolderPlaceholder is printed when no buyer identity could be resolved.
const HolderPlaceholder = "—"

// buildCertificatePDF composes the fixed single-page certificate layout and
// returns the document bytes.
func buildCertificatePDF(data CertificateData) ([]byte, error) {
	cfg := config.NewBuilder().
		WithOrientation(orientation.Horizontal).
		Build()

	m := maroto.New(cfg)

	m.AddRow(30,
		text.NewCol(12, "Certificado de Conservação", props.Text{
			Size:  26,
			Style: fontstyle.Bold,
			Align: align.Center,
			Top:   10,
		}),
	)
	m.AddRow(12,
		text.NewCol(12, "Minha Floresta", props.Text{
			Size:  12,
			Align: align.Center,
		}),
	)

	m.AddRow(16,
		text.NewCol(12, "Certificamos que", props.Text{
			Size:  11,
			Align: align.Center,
			Top:   6,
		}),
	)
	m.AddRow(14,
		text.NewCol(12, data.HolderName, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Center,
		}),
	)
	m.AddRow(16,
		text.NewCol(12,
			fmt.Sprintf("contribuiu para a conservação de %d m² no projeto %s.", data.AreaSqm, data.ProjectName),
			props.Text{
				Size:  12,
				Align: align.Center,
				Top:   2,
			}),
	)

	m.AddRow(18,
		col.New(2),
		text.NewCol(4, "Certificado Nº: "+data.CertificateNumber, props.Text{
			Size: 10,
			Top:  6,
		}),
		text.NewCol(4, "Data de emissão: "+data.IssueDate, props.Text{
			Size:  10,
			Top:   6,
			Align: align.Right,
		}),
		col.New(2),
	)

	m.AddRow(12,
		text.NewCol(12, "Verifique a autenticidade em "+data.VerifyURL, props.Text{
			Size:  8,
			Align: align.Center,
			Top:   4,
		}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
