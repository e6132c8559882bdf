package templates

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Fallback values used when the CRM context is missing a slot.
const (
	FallbackContactName = "Cliente"
	FallbackProductName = "Producto"
)

// Context carries the CRM fields a template can reference. Zero values are
// replaced by deterministic fallbacks, never errors.
type Context struct {
	ContactName      string
	Phone            string
	StageName        string
	EstimatedValue   *float64
	ProductName      string
	ContactCreatedAt time.Time
	Now              time.Time
}

// Rendered is a template with every placeholder substituted.
type Rendered struct {
	Name      string
	Language  string
	Header    string
	Body      string
	Footer    string
	Buttons   []Button
	Variables []string
}

var currencyPrinter = message.NewPrinter(language.LatinAmericanSpanish)

// slotValues resolves the fixed variable slots, in placeholder order:
// {{1}} contact name, {{2}} phone, {{3}} pipeline stage, {{4}} estimated
// value, {{5}} today's date, {{6}} product name, {{7}} creation date.
func slotValues(c Context) []string {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}

	name := strings.TrimSpace(c.ContactName)
	if name == "" {
		name = FallbackContactName
	}

	stage := strings.TrimSpace(c.StageName)
	if stage == "" {
		stage = "Nuevo"
	}

	value := "$0.00"
	if c.EstimatedValue != nil {
		value = currencyPrinter.Sprintf("$%v", number.Decimal(*c.EstimatedValue,
			number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	}

	product := strings.TrimSpace(c.ProductName)
	if product == "" {
		product = FallbackProductName
	}

	created := now
	if !c.ContactCreatedAt.IsZero() {
		created = c.ContactCreatedAt
	}

	return []string{
		name,
		c.Phone,
		stage,
		value,
		now.Format("02/01/2006"),
		product,
		created.Format("02/01/2006"),
	}
}

// Resolve substitutes every {{n}} placeholder across header, body, footer and
// button text. Unknown slot numbers are left untouched.
func Resolve(t Template, c Context) Rendered {
	values := slotValues(c)

	substitute := func(text string) string {
		for i, v := range values {
			text = strings.ReplaceAll(text, fmt.Sprintf("{{%d}}", i+1), v)
		}
		return text
	}

	out := Rendered{
		Name:     t.Name,
		Language: t.Language,
		Header:   substitute(t.HeaderText),
		Body:     substitute(t.BodyText),
		Footer:   substitute(t.FooterText),
	}

	for _, b := range t.Buttons {
		out.Buttons = append(out.Buttons, Button{Index: b.Index, Text: substitute(b.Text)})
	}

	// Positional parameters for the provider template send: only slots the
	// body actually references, in order.
	for i, v := range values {
		if strings.Contains(t.BodyText, fmt.Sprintf("{{%d}}", i+1)) {
			out.Variables = append(out.Variables, v)
		}
	}

	return out
}
