// Package letter renders dispute letters to PDF and keeps track of them.
package letter

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"creditflow/dispute"
)

// Content is everything printed on a letter.
type Content struct {
	Dispute    dispute.Dispute
	ClientName string
	Date       time.Time
}

// Renderer turns letter content into a document.
type Renderer interface {
	Render(c Content) ([]byte, error)
}

// PDFRenderer lays out US-letter PDFs with the core Helvetica font.
type PDFRenderer struct{}

func (PDFRenderer) Render(c Content) ([]byte, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(50, 50, 50)
	pdf.SetAutoPageBreak(true, 50)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	line := func(size float64, style, text string) {
		pdf.SetFont("Helvetica", style, size)
		pdf.MultiCell(0, size*1.3, tr(text), "", "L", false)
	}

	line(16, "B", fmt.Sprintf("Dispute Letter – Round %d", c.Dispute.Round))
	pdf.Ln(8)
	line(12, "", "To: "+dispute.BureauName(c.Dispute.Bureau))
	line(12, "", "Date: "+c.Date.Format("1/2/2006"))
	pdf.Ln(14)

	line(12, "", "Re: Credit Report Dispute – "+c.ClientName)
	pdf.Ln(14)
	line(12, "", "I am disputing the accuracy of the items listed below. Please investigate and correct or delete any information that cannot be verified.")
	pdf.Ln(14)

	line(12, "", "Disputed Items:")
	pdf.Ln(4)
	for i, it := range c.Dispute.Items {
		line(12, "", fmt.Sprintf("%d. %s", i+1, it.Reason))
		pdf.Ln(3)
	}

	pdf.Ln(14)
	line(12, "", "Sincerely,")
	line(12, "", c.ClientName)
	pdf.Ln(14)
	pdf.SetTextColor(0x44, 0x44, 0x44)
	line(10, "", "Enclosures: ID, Proof of Address, Supporting documents")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("letter: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
