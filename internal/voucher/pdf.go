package voucher

import (
	"bytes"
	"fmt"
	"image/png"
	"strconv"

	"ms-rental/internal/models"

	"github.com/signintech/gopdf"
)

// PDFRenderer lays out the printable pickup voucher: booking details, price
// breakdown and the QR code.
type PDFRenderer struct {
	gen      *Generator
	fontPath string
}

func NewPDFRenderer(gen *Generator, fontPath string) *PDFRenderer {
	return &PDFRenderer{gen: gen, fontPath: fontPath}
}

func (p *PDFRenderer) Render(res models.Reservation, vehicle *models.Vehicle) ([]byte, error) {
	qr, err := p.gen.PNG(res)
	if err != nil {
		return nil, err
	}

	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFont("voucher", p.fontPath); err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	if err := pdf.SetFont("voucher", "", 14); err != nil {
		return nil, fmt.Errorf("failed to set font: %w", err)
	}

	pdf.SetX(40)
	pdf.SetY(40)
	pdf.Cell(nil, "RENTAL PICKUP VOUCHER")

	pdf.SetY(80)
	addDetails(pdf, res, vehicle)

	pdf.SetY(pdf.GetY() + 10)
	addPricing(pdf, res.Pricing)

	img, err := png.Decode(bytes.NewReader(qr))
	if err != nil {
		return nil, fmt.Errorf("decode qr: %w", err)
	}
	if err := pdf.ImageFrom(img, 40, pdf.GetY()+20, &gopdf.Rect{W: 160, H: 160}); err != nil {
		return nil, fmt.Errorf("failed to draw QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func addDetails(pdf *gopdf.GoPdf, res models.Reservation, vehicle *models.Vehicle) {
	lines := [][2]string{
		{"Reservation", res.ID},
		{"Vehicle", res.ResourceID},
		{"Pickup", res.StartDate.Format(models.DateLayout)},
		{"Return", res.EndDate.Format(models.DateLayout)},
		{"Payment", res.PaymentRef},
	}
	if vehicle != nil {
		lines[1][1] = fmt.Sprintf("%s (%s) %s", vehicle.Name, vehicle.Rank, vehicle.NumberPlate)
	}
	for _, l := range lines {
		pdf.SetX(40)
		pdf.Cell(nil, l[0]+": "+l[1])
		pdf.Br(20)
	}
}

func addPricing(pdf *gopdf.GoPdf, q models.Quote) {
	for _, item := range q.Items {
		pdf.SetX(40)
		pdf.Cell(nil, fmt.Sprintf("%s  %d x %s = %s", item.Code, item.Units, yen(item.UnitPrice), yen(item.Amount)))
		pdf.Br(18)
	}
	pdf.SetX(40)
	pdf.Cell(nil, "Total: "+yen(q.Total))
	pdf.Br(20)
}

func yen(v int64) string {
	return "JPY " + strconv.FormatInt(v, 10)
}
