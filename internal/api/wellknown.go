package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/pantry.json.
const wellKnownManifest = `{
  "name": "Pantry",
  "description": "Recipe generation with weekly usage metering",
  "version": "0.1.0",
  "api_base": "/api/v1",
  "auth": {
    "type": "bearer",
    "header": "Authorization"
  },
  "endpoints": {
    "accounts": "/api/v1/accounts",
    "account_requests": "/api/v1/accounts/{identity}/requests",
    "account_usage": "/api/v1/accounts/{identity}/usage/weekly",
    "device_requests": "/api/v1/devices/{deviceID}/requests",
    "device_usage": "/api/v1/devices/{deviceID}/usage/weekly",
    "recipes": "/api/v1/recipes"
  },
  "health": "/health"
}`

// WellKnownHandler returns the static well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
