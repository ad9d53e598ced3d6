package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"

	"cloudpico-thermo/internal/utils"

	"github.com/gorilla/mux"
)

type healthchecker struct {
	db *sql.DB
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		var ok int
		if err := h.db.QueryRowContext(r.Context(), `SELECT 1`).Scan(&ok); err != nil {
			slog.Error("failed to check database connectivity", "error", err)
			utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
			return
		}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func registerHealthcheck(r *mux.Router, db *sql.DB) {
	h := &healthchecker{db: db}
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
}
