package handler

import (
	"net/http"

	"pawpool/internal/middleware"

	"github.com/gorilla/mux"
)

// Routes groups the pool handlers for registration on an authenticated router.
type Routes struct {
	Pool     *PoolHandler
	Disputes *DisputeHandler
	Admin    *AdminHandler
	Stream   *StreamHandler
	Session  *SessionHandler
}

// Register mounts member routes on api and admin routes on api/admin. api
// must already authenticate; adminMW runs after the admin gate.
func (rt Routes) Register(api *mux.Router, adminMW ...mux.MiddlewareFunc) {
	api.HandleFunc("/payments/{id}/deposit", rt.Pool.Deposit).Methods(http.MethodPost)
	api.HandleFunc("/pool/balance", rt.Pool.MyBalance).Methods(http.MethodGet)
	api.HandleFunc("/contracts/{id}/pool", rt.Pool.ContractSummary).Methods(http.MethodGet)
	api.HandleFunc("/contracts/{id}/cancel", rt.Pool.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/contracts/{id}/disputes", rt.Disputes.Open).Methods(http.MethodPost)
	api.HandleFunc("/disputes/{id}", rt.Disputes.Get).Methods(http.MethodGet)
	if rt.Session != nil {
		api.HandleFunc("/session/revoke", rt.Session.Revoke).Methods(http.MethodPost)
	}

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	for _, mw := range adminMW {
		admin.Use(mw)
	}

	admin.HandleFunc("/contracts/{id}/release-collateral", rt.Pool.ReleaseCollateral).Methods(http.MethodPost)
	admin.HandleFunc("/contracts/{id}/release-shooter", rt.Pool.ReleaseShooter).Methods(http.MethodPost)
	admin.HandleFunc("/contracts/{id}/freeze", rt.Pool.FreezeContract).Methods(http.MethodPost)
	admin.HandleFunc("/contracts/{id}/unfreeze", rt.Pool.UnfreezeContract).Methods(http.MethodPost)

	admin.HandleFunc("/disputes/{id}/review", rt.Disputes.Review).Methods(http.MethodPost)
	admin.HandleFunc("/disputes/{id}/resolve", rt.Disputes.Resolve).Methods(http.MethodPost)
	admin.HandleFunc("/disputes/{id}/dismiss", rt.Disputes.Dismiss).Methods(http.MethodPost)

	admin.HandleFunc("/pool/balance", rt.Pool.Balance).Methods(http.MethodGet)
	admin.HandleFunc("/pool/statistics", rt.Pool.Statistics).Methods(http.MethodGet)
	admin.HandleFunc("/pool/monthly-flow", rt.Pool.MonthlyFlow).Methods(http.MethodGet)
	admin.HandleFunc("/pool/revenue", rt.Pool.Revenue).Methods(http.MethodGet)
	admin.HandleFunc("/pool/reconcile", rt.Pool.Reconcile).Methods(http.MethodGet)
	admin.HandleFunc("/pool/transactions", rt.Pool.ListTransactions).Methods(http.MethodGet)
	admin.HandleFunc("/pool/transactions/export", rt.Pool.ExportTransactions).Methods(http.MethodGet)
	admin.HandleFunc("/pool/transactions/retry-pending", rt.Admin.RetryAllPending).Methods(http.MethodPost)
	admin.HandleFunc("/pool/transactions/{id}/freeze", rt.Admin.FreezeTransaction).Methods(http.MethodPost)
	admin.HandleFunc("/pool/transactions/{id}/unfreeze", rt.Admin.UnfreezeTransaction).Methods(http.MethodPost)
	admin.HandleFunc("/pool/transactions/{id}/force-release", rt.Admin.ForceRelease).Methods(http.MethodPost)
	admin.HandleFunc("/pool/transactions/{id}/retry", rt.Admin.RetryPending).Methods(http.MethodPost)
	admin.HandleFunc("/pool/transactions/{id}/cancel", rt.Admin.CancelPending).Methods(http.MethodPost)

	if rt.Stream != nil {
		admin.HandleFunc("/pool/stream", rt.Stream.Serve).Methods(http.MethodGet)
	}
}
