package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kalambet/askd/internal/sqltool"
	"github.com/kalambet/askd/internal/storage"
)

// settingConnectionKey stores the user's connection input. The raw
// input is persisted and re-resolved on every use so environment and
// filesystem changes are picked up.
const settingConnectionKey = "database.connection"

// currentDescriptor resolves the active connection: the stored user
// override first, then the environment default.
func currentDescriptor(deps Deps) (sqltool.Descriptor, error) {
	raw, err := deps.Store.GetSetting(settingConnectionKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return sqltool.Descriptor{}, err
	}
	if raw != "" {
		var input sqltool.DescriptorInput
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return sqltool.Descriptor{}, err
		}
		return deps.Resolver.Resolve(&input)
	}
	return deps.Resolver.Resolve(nil)
}

func connectionStatus(err error, w http.ResponseWriter) bool {
	switch {
	case errors.Is(err, sqltool.ErrNoConnection):
		httpError(w, http.StatusNotFound, "not_found", "no database connection configured")
	case errors.Is(err, sqltool.ErrInvalidDescriptor):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case err != nil:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	default:
		return false
	}
	return true
}

// connectionEnvelope is the settings surface's view of the connection:
// the resolved descriptor (nil when nothing is configured), the modes a
// client may pick from, and whether an environment default exists.
type connectionEnvelope struct {
	Connection          *sqltool.Descriptor `json:"connection"`
	AvailableModes      []string            `json:"availableModes"`
	EnvironmentFallback bool                `json:"environmentFallback"`
}

func connectionEnvelopeFor(deps Deps) (connectionEnvelope, error) {
	env := connectionEnvelope{
		AvailableModes: []string{string(sqltool.ModeSQLite), string(sqltool.ModeURL)},
	}
	if _, err := deps.Resolver.Resolve(nil); err == nil {
		env.EnvironmentFallback = true
	}

	d, err := currentDescriptor(deps)
	if errors.Is(err, sqltool.ErrNoConnection) {
		return env, nil
	}
	if err != nil {
		return env, err
	}
	env.Connection = &d
	return env, nil
}

func handleGetConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := connectionEnvelopeFor(deps)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, env)
	}
}

type setConnectionRequest struct {
	sqltool.DescriptorInput
	TestConnection bool `json:"testConnection,omitempty"`
}

func handleSetConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req setConnectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		// Validate before persisting so a broken descriptor never sticks.
		d, err := deps.Resolver.Resolve(&req.DescriptorInput)
		if err != nil {
			if errors.Is(err, sqltool.ErrInvalidDescriptor) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		if req.TestConnection {
			if report := deps.Resolver.Test(r.Context(), d); !report.OK {
				httpError(w, http.StatusBadRequest, "connection_error", "connection test failed: %s", report.Message)
				return
			}
		}

		raw, err := json.Marshal(req.DescriptorInput)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "encoding connection: %v", err)
			return
		}
		if err := deps.Store.SetSetting(settingConnectionKey, string(raw)); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving connection: %v", err)
			return
		}

		env, err := connectionEnvelopeFor(deps)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, env)
	}
}

func handleClearConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteSetting(settingConnectionKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "clearing connection: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

// handleTestConnection probes either a posted candidate descriptor or,
// with an empty body, the currently configured connection. Nothing is
// persisted either way.
func handleTestConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var input sqltool.DescriptorInput
		decodeErr := json.NewDecoder(r.Body).Decode(&input)
		if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", decodeErr)
			return
		}

		var (
			d   sqltool.Descriptor
			err error
		)
		if decodeErr == nil && input.Mode != "" {
			d, err = deps.Resolver.Resolve(&input)
		} else {
			d, err = currentDescriptor(deps)
		}
		if connectionStatus(err, w) {
			return
		}
		writeJSON(w, deps.Resolver.Test(r.Context(), d))
	}
}

func handleGetSchema(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := currentDescriptor(deps)
		if connectionStatus(err, w) {
			return
		}

		snap, err := sqltool.Introspect(r.Context(), d)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, snap)
	}
}

type queryRequest struct {
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

func handleRunQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		d, err := currentDescriptor(deps)
		if connectionStatus(err, w) {
			return
		}

		limit := sqltool.DefaultRowLimit
		if req.Limit != nil {
			limit = *req.Limit
		}

		res, err := sqltool.Execute(r.Context(), d, req.Query, limit)
		if err != nil {
			if errors.Is(err, sqltool.ErrExecution) {
				httpError(w, http.StatusBadRequest, "execution_error", "%v", err)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, res)
	}
}

type suggestionsRequest struct {
	Query          string `json:"query"`
	MaxSuggestions int    `json:"maxSuggestions"`
}

func handleQuerySuggestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req suggestionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		d, err := currentDescriptor(deps)
		if connectionStatus(err, w) {
			return
		}

		set, err := deps.Suggester.Suggest(r.Context(), d, req.Query, req.MaxSuggestions)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, set)
	}
}
