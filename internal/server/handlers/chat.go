package handlers

import (
	"net/http"
)

// PublicChat serves POST /v1/chat/completions for API key holders.
func (a *API) PublicChat(w http.ResponseWriter, r *http.Request) {
	body, err := a.readBody(w, r, a.MaxBodyBytes)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp, err := a.Dispatcher.PublicChat(r.Context(), r.Header.Get("Authorization"), body)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	a.writeGatewayResponse(w, r, resp)
}

// Chat serves POST /api/chat for the bundled web app.
func (a *API) Chat(w http.ResponseWriter, r *http.Request) {
	body, err := a.readBody(w, r, a.MaxBodyBytes)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	resp, err := a.Dispatcher.Chat(r.Context(), body)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	a.writeGatewayResponse(w, r, resp)
}
