package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
)

// Data is what every template renders from.
type Data struct {
	Order    *orders.Order
	Refund   *orders.Refund
	LowStock *orders.LowStockPayload
	Previous orders.Status
}

type mailTemplate struct{ subject, body string }

var catalogs = map[string]map[string]mailTemplate{
	"en": {
		orders.EventOrderPlaced: {
			subject: "Order confirmation {{.Order.Number}}",
			body: `Hi {{.Order.Customer.Name}},

Thank you for your order {{.Order.Number}}.
{{range .Order.Items}}
  {{name .Name}} x {{.Quantity}}  {{money .Subtotal}}{{end}}

Subtotal: {{money .Order.Subtotal}}
Tax:      {{money .Order.Tax}}
Shipping: {{money .Order.ShippingFee}}
Total:    {{money .Order.Total}}

We will let you know when it ships.
`,
		},
		orders.EventAdminNewOrder: {
			subject: "New order {{.Order.Number}} ({{money .Order.Total}})",
			body: `Order {{.Order.Number}} was placed by {{.Order.Customer.Name}} <{{.Order.Customer.Email}}>.
Lines: {{len .Order.Items}}, total {{money .Order.Total}}, payment {{.Order.PaymentStatus}}.
Ship to: {{.Order.ShippingAddress.Street}}, {{.Order.ShippingAddress.PostalCode}} {{.Order.ShippingAddress.City}}, {{.Order.ShippingAddress.Country}}
`,
		},
		orders.EventLowStock: {
			subject: "Low stock: {{.LowStock.SKU}}",
			body: `{{name .LowStock.Name}} ({{.LowStock.SKU}}) has {{.LowStock.Remaining}} left, at or below the threshold of {{.LowStock.Threshold}}.
Triggered by order {{.LowStock.OrderRef}}.
`,
		},
		orders.EventOrderCancelled: {
			subject: "Order {{.Order.Number}} cancelled",
			body: `Order {{.Order.Number}} has been cancelled.{{if eq .Order.PaymentStatus "paid"}} Any payment will be refunded.{{end}}
`,
		},
		orders.EventOrderStatusChanged: {
			subject: "Order {{.Order.Number}} is now {{status .Order.Status}}",
			body: `Hi {{.Order.Customer.Name}},

Your order {{.Order.Number}} is now {{status .Order.Status}}.
`,
		},
		orders.EventOrderShipped: {
			subject: "Order {{.Order.Number}} has shipped",
			body: `Hi {{.Order.Customer.Name}},

Your order {{.Order.Number}} is on its way.{{with .Order.Shipping.TrackingNumber}}
Tracking number: {{.}}{{end}}{{with .Order.Shipping.Carrier}}
Carrier: {{.}}{{end}}
`,
		},
		orders.EventPaymentConfirmed: {
			subject: "Payment received for order {{.Order.Number}}",
			body: `We have received {{money .Order.Total}} for order {{.Order.Number}}.
`,
		},
		orders.EventPaymentFailed: {
			subject: "Payment failed for order {{.Order.Number}}",
			body: `The payment for order {{.Order.Number}} did not go through. Please try again.
`,
		},
		orders.EventRefundIssued: {
			subject: "Refund for order {{.Order.Number}}",
			body: `{{if .Refund}}We have refunded {{money .Refund.Amount}} for order {{.Order.Number}}.{{else}}Your payment for order {{.Order.Number}} has been refunded.{{end}}
`,
		},
		orders.EventRefundRequired: {
			subject: "Refund required: {{.Order.Number}}",
			body: `Order {{.Order.Number}} is cancelled but payment {{.Order.PaymentIntentID}} of {{money .Order.Total}} succeeded.
Refund it from the admin API.
`,
		},
	},
	"no": {
		orders.EventOrderPlaced: {
			subject: "Ordrebekreftelse {{.Order.Number}}",
			body: `Hei {{.Order.Customer.Name}},

Takk for bestillingen {{.Order.Number}}.
{{range .Order.Items}}
  {{name .Name}} x {{.Quantity}}  {{money .Subtotal}}{{end}}

Delsum:   {{money .Order.Subtotal}}
MVA:      {{money .Order.Tax}}
Frakt:    {{money .Order.ShippingFee}}
Totalt:   {{money .Order.Total}}

Vi gir beskjed når pakken er sendt.
`,
		},
		orders.EventOrderCancelled: {
			subject: "Ordre {{.Order.Number}} er kansellert",
			body: `Ordre {{.Order.Number}} er kansellert.{{if eq .Order.PaymentStatus "paid"}} Eventuell betaling blir refundert.{{end}}
`,
		},
		orders.EventOrderStatusChanged: {
			subject: "Ordre {{.Order.Number}} er nå {{status .Order.Status}}",
			body: `Hei {{.Order.Customer.Name}},

Ordren din {{.Order.Number}} er nå {{status .Order.Status}}.
`,
		},
		orders.EventOrderShipped: {
			subject: "Ordre {{.Order.Number}} er sendt",
			body: `Hei {{.Order.Customer.Name}},

Ordren din {{.Order.Number}} er på vei.{{with .Order.Shipping.TrackingNumber}}
Sporingsnummer: {{.}}{{end}}{{with .Order.Shipping.Carrier}}
Transportør: {{.}}{{end}}
`,
		},
		orders.EventPaymentConfirmed: {
			subject: "Betaling mottatt for ordre {{.Order.Number}}",
			body: `Vi har mottatt {{money .Order.Total}} for ordre {{.Order.Number}}.
`,
		},
		orders.EventPaymentFailed: {
			subject: "Betalingen feilet for ordre {{.Order.Number}}",
			body: `Betalingen for ordre {{.Order.Number}} gikk ikke gjennom. Vennligst prøv igjen.
`,
		},
		orders.EventRefundIssued: {
			subject: "Refusjon for ordre {{.Order.Number}}",
			body: `{{if .Refund}}Vi har refundert {{money .Refund.Amount}} for ordre {{.Order.Number}}.{{else}}Betalingen for ordre {{.Order.Number}} er refundert.{{end}}
`,
		},
	},
}

var statusNames = map[string]map[orders.Status]string{
	"no": {
		orders.StatusPending:    "mottatt",
		orders.StatusProcessing: "under behandling",
		orders.StatusShipped:    "sendt",
		orders.StatusDelivered:  "levert",
		orders.StatusCancelled:  "kansellert",
	},
}

// Render produces the subject and body of eventType in lang. Missing
// translations fall back to English.
func Render(lang, eventType string, d Data) (subject, body string, err error) {
	mt, ok := catalogs[lang][eventType]
	if !ok {
		lang = "en"
		if mt, ok = catalogs[lang][eventType]; !ok {
			return "", "", fmt.Errorf("no template for %s", eventType)
		}
	}
	funcs := template.FuncMap{
		"money": func(v decimal.Decimal) string { return v.StringFixed(2) + " kr" },
		"name":  func(l catalog.Localized) string { return l.In(lang) },
		"status": func(s orders.Status) string {
			if n, ok := statusNames[lang][s]; ok {
				return n
			}
			return string(s)
		},
	}
	if subject, err = execute(eventType+".subject", mt.subject, funcs, d); err != nil {
		return "", "", err
	}
	if body, err = execute(eventType+".body", mt.body, funcs, d); err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func execute(name, text string, funcs template.FuncMap, d Data) (string, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
