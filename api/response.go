// Copyright (C) 2024 Cask Storage, Inc.
// See LICENSE for copying information.

package api

import (
	"encoding/json"
	"net/http"
)

func writeJSONResponse(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorResponse(w http.ResponseWriter, apiErr APIError) {
	writeJSONResponse(w, apiErr.HTTPStatusCode, apiErr)
}
