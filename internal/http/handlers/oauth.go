package handlers

import "net/http"

// HandleOAuthStart redirects the operator to the CRM consent page.
func (h *Handlers) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.crm.AuthorizeURL(), http.StatusFound)
}

// HandleOAuthCallback completes the CRM OAuth dance and stores the tokens.
func (h *Handlers) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		respondError(w, http.StatusBadRequest, "missing authorization code")
		return
	}
	token, err := h.crm.ExchangeCode(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange failed", "error", err)
		respondError(w, http.StatusBadGateway, "token exchange failed")
		return
	}
	h.logger.Info("crm connected", "location_id", token.LocationID)
	respondJSON(w, http.StatusOK, map[string]string{
		"status":     "connected",
		"locationId": token.LocationID,
	})
}
