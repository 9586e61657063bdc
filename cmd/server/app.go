package main

import (
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/diewo77/invoiceflow/auth"
	"github.com/diewo77/invoiceflow/httpx"
	"github.com/diewo77/invoiceflow/internal/billing"
	"github.com/diewo77/invoiceflow/internal/handlers"
	"github.com/diewo77/invoiceflow/internal/notify"
	"github.com/diewo77/invoiceflow/internal/pdf"
)

// App is the main application handler that sets up all routes.
type App struct {
	mux *http.ServeMux
	db  *gorm.DB
}

// NewApp creates a new application with all routes configured.
func NewApp(
	db *gorm.DB,
	invoices *billing.InvoiceService,
	lifecycle *billing.Lifecycle,
	notifications *notify.Service,
	renderer pdf.Renderer,
	log *zap.Logger,
) *App {
	app := &App{mux: http.NewServeMux(), db: db}

	ah := handlers.NewAuthHandler(db, log)
	ih := handlers.NewInvoiceHandler(db, invoices, lifecycle, renderer, log)
	ch := handlers.NewClientHandler(db, log)
	nh := handlers.NewNotificationHandler(db, notifications)
	dh := handlers.NewDashboardHandler(db, invoices)
	sh := handlers.NewSettingsHandler(db, log)
	ph := handlers.NewPortalHandler(db, lifecycle, notifications, log)

	mux := app.mux

	// Public routes
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /login", ah.Login)
	mux.HandleFunc("POST /logout", ah.Logout)

	// Authenticated routes
	authed := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAuth(h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAuth(handlers.RequireAdmin(db, h))
	}

	mux.Handle("GET /dashboard", authed(dh.Summary))

	mux.Handle("GET /invoices", authed(ih.List))
	mux.Handle("POST /invoices", authed(ih.Create))
	mux.Handle("GET /invoices/{id}", authed(ih.Detail))
	mux.Handle("GET /invoices/{id}/pdf", authed(ih.PDF))
	mux.Handle("POST /invoices/{id}/items", authed(ih.AddItem))
	mux.Handle("DELETE /invoices/{id}/items/{itemID}", authed(ih.RemoveItem))

	// Administrative actions
	mux.Handle("POST /invoices/{id}/status", admin(ih.UpdateStatus))
	mux.Handle("POST /invoices/{id}/number", admin(ih.UpdateNumber))
	mux.Handle("DELETE /invoices/{id}", admin(ih.Delete))

	mux.Handle("GET /clients", admin(ch.List))
	mux.Handle("POST /clients", admin(ch.Create))
	mux.Handle("PUT /clients/{id}", admin(ch.Update))
	mux.Handle("DELETE /clients/{id}", admin(ch.Delete))

	mux.Handle("GET /settings", authed(sh.Get))
	mux.Handle("PUT /settings", authed(sh.Update))

	// Customer portal
	mux.Handle("GET /my-invoices", authed(ph.List))
	mux.Handle("POST /my-invoices/{id}/pay", authed(ph.Pay))

	mux.Handle("GET /notifications", authed(nh.List))
	mux.Handle("POST /notifications/{id}/read", authed(nh.MarkRead))
	mux.Handle("POST /notifications/read-all", authed(nh.MarkAllRead))

	return app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	auth.Middleware(a.mux).ServeHTTP(w, r)
}
