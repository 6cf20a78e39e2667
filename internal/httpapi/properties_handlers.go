package httpapi

import (
	"net/http"
	"strconv"

	"propscout-engine/internal/domain"
	"propscout-engine/internal/store"
)

type PropertiesHandler struct {
	Properties PropertyLister
}

// List serves merged properties. Low-quality records are hidden unless the
// caller asks for them with ?include_low_quality=1.
func (h PropertiesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := store.ListOpts{
		City:  q.Get("city"),
		State: q.Get("state"),
	}
	if v := q.Get("include_low_quality"); v == "1" || v == "true" {
		opts.IncludeLowQuality = true
	}
	if v := q.Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}

	props, err := h.Properties.ListProperties(r.Context(), opts)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	if props == nil {
		props = []domain.Property{}
	}
	WriteJSON(w, http.StatusOK, props)
}
