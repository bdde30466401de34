// Copyright 2025 SQLPilot
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"sqlpilot/platform/connectors/base"
	"sqlpilot/platform/credentials"
	"sqlpilot/platform/orchestrator"
)

// connectRequest is the body of POST /api/v1/database/connect.
type connectRequest struct {
	Type             string `json:"type"`
	Method           string `json:"method"`
	ConnectionString string `json:"connection_string,omitempty"`
	Parameters       *struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Username string `json:"username"`
		Password string `json:"password"`
		Database string `json:"database"`
	} `json:"parameters,omitempty"`
}

type queryRequest struct {
	Prompt string `json:"prompt"`
}

type executeRequest struct {
	Query string `json:"query"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleConnect validates the supplied credentials by connecting and listing
// tables. Only a database with at least one table gets a credential cookie;
// an empty database would have nothing to query.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	config := &base.ConnectionConfig{
		Type:             base.DatabaseType(req.Type),
		Method:           base.ConnectionMethod(req.Method),
		ConnectionString: req.ConnectionString,
	}
	if req.Parameters != nil {
		config.Parameters = &base.ConnectionParameters{
			Host:     req.Parameters.Host,
			Port:     req.Parameters.Port,
			Username: req.Parameters.Username,
			Password: req.Parameters.Password,
			Database: req.Parameters.Database,
		}
	}
	if err := config.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tables, err := s.executor.ConnectAndListTables(r.Context(), config)
	if err != nil {
		s.log.Warn(requestID, "connect failed", map[string]interface{}{
			"db_type": req.Type,
			"error":   base.SanitizeLogString(err.Error()),
		})
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	// A reconnect may point at a changed database.
	s.manager.ClearCache(config.Type, nil)

	token, err := s.store.Issue(config)
	if err != nil {
		s.log.Error(requestID, "failed to issue credential token", map[string]interface{}{
			"error": err.Error(),
		})
		s.writeError(w, http.StatusInternalServerError, "failed to store credentials")
		return
	}
	credentials.SetCookie(w, token, s.cfg.CredentialTTL, s.cfg.SecureCookies)

	s.log.Info(requestID, "database connected", map[string]interface{}{
		"db_type":     req.Type,
		"table_count": len(tables),
	})
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tables":  tables,
	})
}

// handleDisconnect drops the stored credentials and the cached schemas for
// the engine they pointed at.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if token, err := credentials.FromRequest(r); err == nil {
		if config, err := s.store.Decode(token); err == nil {
			s.manager.ClearCache(config.Type, nil)
		}
	}
	credentials.ClearCookie(w, s.cfg.SecureCookies)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleSchema returns the schemas of the named tables (?tables=a,b), or of
// all tables when the parameter is absent.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	var tables []string
	if raw := r.URL.Query().Get("tables"); raw != "" {
		tables = strings.Split(raw, ",")
	}

	schemas, err := s.executor.GetSchema(r.Context(), s.credentialSource(r), tables)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"schemas": schemas,
	})
}

// handleListDatabases enumerates databases visible with the stored
// credentials, for engines that support it.
func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	databases, err := s.executor.ListDatabases(r.Context(), s.credentialSource(r))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"databases": databases,
	})
}

// handleQuery runs the full pipeline: generate a query from the prompt and
// execute it against the stored database.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	result, err := s.executor.GenerateAndExecute(r.Context(), requestID, s.credentialSource(r), req.Prompt)
	if err != nil {
		s.log.Warn(requestID, "query failed", map[string]interface{}{
			"error": base.SanitizeLogString(err.Error()),
		})
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"query":   result.Query,
		"data":    result.Data,
		"retried": result.Retried,
	})
}

// handleExecute runs a caller-supplied query without generation. Read-only
// validation still applies in the connector.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := s.executor.ExecuteSQL(r.Context(), s.credentialSource(r), req.Query)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	if !result.Success {
		s.writeError(w, http.StatusUnprocessableEntity, result.Error)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    result.Data,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// credentialSource resolves the connection config from the request cookie.
func (s *Server) credentialSource(r *http.Request) orchestrator.CredentialSource {
	return orchestrator.CredentialFunc(func(ctx context.Context) (*base.ConnectionConfig, error) {
		token, err := credentials.FromRequest(r)
		if err != nil {
			return nil, err
		}
		return s.store.Decode(token)
	})
}

func statusFor(err error) int {
	var execErr *orchestrator.QueryExecutionError
	switch {
	case errors.Is(err, credentials.ErrNoCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, orchestrator.ErrNoConnection):
		return http.StatusBadGateway
	case errors.Is(err, orchestrator.ErrGeneration):
		return http.StatusBadGateway
	case errors.As(err, &execErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Success: false, Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
