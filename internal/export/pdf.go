package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tassa-soggiorno/tassa/internal/booking"
	"github.com/tassa-soggiorno/tassa/web"
)

const (
	reportTemplate = "templates/reports/tax_report.html"
	reportStyles   = "static/css/report.css"
)

// ErrRender wraps failures of the PDF conversion service.
var ErrRender = errors.New("export: pdf rendering failed")

// PDFClient exposes the subset of the report client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// RenderResult holds the intermediate HTML and the converted PDF.
type RenderResult struct {
	HTML   string
	PDF    []byte
	Length int64
}

// Renderer turns a Document into HTML through the embedded template and
// converts it to PDF.
type Renderer struct {
	tpl    *template.Template
	client PDFClient
}

// NewRenderer parses the report template. A nil client still allows HTML
// rendering; Render then fails.
func NewRenderer(client PDFClient) (*Renderer, error) {
	css, err := web.Static.ReadFile(reportStyles)
	if err != nil {
		return nil, fmt.Errorf("export renderer: load styles: %w", err)
	}
	printer := message.NewPrinter(language.Italian)
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02/01/2006")
		},
		"formatTimestamp": func(t time.Time) string {
			return t.Format("02/01/2006 15:04")
		},
		"euro": func(v decimal.Decimal) string {
			return formatEuro(printer, v)
		},
		"count": func(v int) string {
			return printer.Sprintf("%d", v)
		},
		"ages": joinAges,
		"statuses": func(list []booking.Status) string {
			labels := make([]string, len(list))
			for i, st := range list {
				labels[i] = st.Label()
			}
			return strings.Join(labels, ", ")
		},
		"styles": func() template.CSS {
			return template.CSS(css)
		},
	}
	tpl, err := template.New("tax_report.html").Funcs(funcMap).ParseFS(web.Templates, reportTemplate)
	if err != nil {
		return nil, err
	}
	return &Renderer{tpl: tpl, client: client}, nil
}

// HTML executes the template for doc.
func (r *Renderer) HTML(doc Document) (string, error) {
	if r == nil || r.tpl == nil {
		return "", fmt.Errorf("export renderer not initialised")
	}
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render executes the template and converts the HTML to PDF bytes.
func (r *Renderer) Render(ctx context.Context, doc Document) (RenderResult, error) {
	if r == nil || r.client == nil {
		return RenderResult{}, fmt.Errorf("export renderer: pdf client required")
	}
	html, err := r.HTML(doc)
	if err != nil {
		return RenderResult{}, err
	}
	pdf, err := r.client.RenderHTML(ctx, html)
	if err != nil {
		return RenderResult{}, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return RenderResult{HTML: html, PDF: pdf, Length: int64(len(pdf))}, nil
}

// formatEuro prints v with Italian digit grouping, e.g. "€ 1.234,50". The
// amount is split on its fixed two-decimal form so no float conversion occurs.
func formatEuro(p *message.Printer, v decimal.Decimal) string {
	fixed := v.StringFixed(2)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	units, err := decimal.NewFromString(whole)
	if err != nil {
		return "€ " + sign + whole + "," + frac
	}
	return "€ " + sign + p.Sprintf("%d", units.IntPart()) + "," + frac
}
