package handlers

import (
	"github.com/labstack/echo/v4"
)

// Handlers groups every HTTP handler of the ledger API.
type Handlers struct {
	Invoices *InvoiceHandlers
	Payments *PaymentHandlers
	Settings *SettingsHandlers
	Health   *HealthHandlers
}

// RegisterHealth mounts the unauthenticated probes.
func (h *Handlers) RegisterHealth(e *echo.Echo) {
	e.GET("/health", h.Health.HealthCheck)
	e.GET("/health/ready", h.Health.ReadinessCheck)
}

// RegisterAPI mounts the ledger routes on g, usually the /v1 group.
func (h *Handlers) RegisterAPI(g *echo.Group) {
	g.POST("/invoices", h.Invoices.CreateInvoice)
	g.GET("/invoices", h.Invoices.ListInvoices)
	g.GET("/invoices/summary", h.Invoices.GetSummary)
	g.GET("/invoices/:id", h.Invoices.GetInvoice)
	g.PUT("/invoices/:id/line-items", h.Invoices.UpdateLineItems)
	g.POST("/invoices/:id/send", h.Invoices.SendInvoice)
	g.POST("/invoices/:id/cancel", h.Invoices.CancelInvoice)
	g.DELETE("/invoices/:id", h.Invoices.DeleteInvoice)

	g.POST("/payments", h.Payments.ApplyPayment)
	g.GET("/payments", h.Payments.ListPayments)
	g.GET("/payments/:id", h.Payments.GetPayment)
	g.POST("/payments/:id/void", h.Payments.VoidPayment)

	g.GET("/clients/:id/total-spent", h.Payments.ClientTotalSpent)

	g.GET("/settings/numbering", h.Settings.GetNumberingPolicy)
	g.PUT("/settings/numbering", h.Settings.UpdateNumberingPolicy)
}
