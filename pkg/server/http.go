package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/epsniff/runfactory/pkg/workerstate"
	"github.com/justinas/alice"
	"go.uber.org/zap"
)

const configPath = "/config"

type httpServer struct {
	state  *workerstate.State
	logger *zap.Logger
}

func newHTTPServer(state *workerstate.State, logger *zap.Logger) *httpServer {
	return &httpServer{state: state, logger: logger}
}

// Handler wraps the admin API in its middleware chain.
func (server *httpServer) Handler() http.Handler {
	return alice.New(server.recoverPanics, server.logRequests).Then(server)
}

func (server *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == configPath || r.URL.Path == configPath+"/":
		server.handleSettings(w, r)
	case strings.HasPrefix(r.URL.Path, configPath+"/"):
		server.handleSetting(w, r, strings.TrimPrefix(r.URL.Path, configPath+"/"))
	default:
		statusNotFound(w)
	}
}

func (server *httpServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		statusMethodNotAllowed(w, http.MethodGet)
		return
	}
	settings, err := server.state.Settings()
	if err != nil {
		server.logger.Error("Failed to read worker state", zap.Error(err))
		statusInternalError(w)
		return
	}
	server.writeJSON(w, settings)
}

type valueBody struct {
	Value json.RawMessage `json:"value"`
}

func (server *httpServer) handleSetting(w http.ResponseWriter, r *http.Request, name string) {
	field, ok := settingFields[name]
	if !ok {
		statusNotFound(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		val, err := field.get(server.state)
		if err != nil {
			server.logger.Error("Failed to read setting", zap.String("setting", name), zap.Error(err))
			statusInternalError(w)
			return
		}
		server.writeJSON(w, struct {
			Value interface{} `json:"value"`
		}{Value: val})
	case http.MethodPut:
		var req valueBody
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Value) == 0 {
			server.logger.Info("Bad request", zap.String("setting", name), zap.Error(err))
			statusBadRequest(w, "body must be a JSON object with a value")
			return
		}
		if !field.nullable && bytes.Equal(bytes.TrimSpace(req.Value), []byte("null")) {
			server.logger.Info("Bad value", zap.String("setting", name), zap.String("value", "null"))
			statusBadRequest(w, "value must not be null")
			return
		}
		apply, err := field.parse(req.Value)
		if err != nil {
			server.logger.Info("Bad value", zap.String("setting", name), zap.Error(err))
			statusBadRequest(w, err.Error())
			return
		}
		if err := apply(server.state); err != nil {
			server.logger.Error("Failed to store setting", zap.String("setting", name), zap.Error(err))
			statusInternalError(w)
			return
		}
		server.logger.Info("setting updated", zap.String("setting", name), zap.ByteString("value", req.Value))
		w.WriteHeader(http.StatusOK)
	default:
		statusMethodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

func (server *httpServer) writeJSON(w http.ResponseWriter, v interface{}) {
	responseBytes, err := json.Marshal(v)
	if err != nil {
		server.logger.Error("Failed to marshal response", zap.Error(err))
		statusInternalError(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(responseBytes)
}

// ~~~~~~~~~~~ Setting fields ~~~~~~~~~~~~~~~~~~~~~

type settingField struct {
	get   func(s *workerstate.State) (interface{}, error)
	parse func(raw json.RawMessage) (func(s *workerstate.State) error, error)
	// only registryHost may be cleared with null
	nullable bool
}

func intField(get func(*workerstate.State) (int, error), set func(*workerstate.State, int) error) settingField {
	return settingField{
		get: func(s *workerstate.State) (interface{}, error) { return get(s) },
		parse: func(raw json.RawMessage) (func(*workerstate.State) error, error) {
			var v int
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("value must be an integer")
			}
			return func(s *workerstate.State) error { return set(s, v) }, nil
		},
	}
}

func stringField(get func(*workerstate.State) (string, error), set func(*workerstate.State, string) error) settingField {
	return settingField{
		get: func(s *workerstate.State) (interface{}, error) { return get(s) },
		parse: func(raw json.RawMessage) (func(*workerstate.State) error, error) {
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("value must be a string")
			}
			return func(s *workerstate.State) error { return set(s, v) }, nil
		},
	}
}

var settingFields = map[string]settingField{
	"defaultLifetime":          intField((*workerstate.State).DefaultLifetime, (*workerstate.State).SetDefaultLifetime),
	"maxRuns":                  intField((*workerstate.State).MaxRuns, (*workerstate.State).SetMaxRuns),
	"waitSeconds":              intField((*workerstate.State).WaitSeconds, (*workerstate.State).SetWaitSeconds),
	"sleepMS":                  intField((*workerstate.State).SleepMS, (*workerstate.State).SetSleepMS),
	"registryPort":             intField((*workerstate.State).RegistryPort, (*workerstate.State).SetRegistryPort),
	"factoryProcessNamePrefix": stringField((*workerstate.State).FactoryProcessNamePrefix, (*workerstate.State).SetFactoryProcessNamePrefix),
	"executeWorkflowScript":    stringField((*workerstate.State).ExecuteWorkflowScript, (*workerstate.State).SetExecuteWorkflowScript),
	"serverWorkerJar":          stringField((*workerstate.State).ServerWorkerJar, (*workerstate.State).SetServerWorkerJar),
	"javaBinary":               stringField((*workerstate.State).JavaBinary, (*workerstate.State).SetJavaBinary),
	"extraArgs": {
		get: func(s *workerstate.State) (interface{}, error) { return s.ExtraArgs() },
		parse: func(raw json.RawMessage) (func(*workerstate.State) error, error) {
			var v []string
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("value must be a list of strings")
			}
			return func(s *workerstate.State) error { return s.SetExtraArgs(v) }, nil
		},
	},
	// null when no registry host is configured
	"registryHost": {
		nullable: true,
		get: func(s *workerstate.State) (interface{}, error) {
			host, ok, err := s.RegistryHost()
			if err != nil || !ok {
				return nil, err
			}
			return host, nil
		},
		parse: func(raw json.RawMessage) (func(*workerstate.State) error, error) {
			var v *string
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("value must be a string or null")
			}
			host := ""
			if v != nil {
				host = *v
			}
			return func(s *workerstate.State) error { return s.SetRegistryHost(host) }, nil
		},
	},
}

// ~~~~~~~~~~~ Middleware ~~~~~~~~~~~~~~~~~~~~~

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (server *httpServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		server.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

func (server *httpServer) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				server.logger.Error("panic serving request",
					zap.String("path", r.URL.Path), zap.Any("panic", p), zap.Stack("stack"))
				statusInternalError(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ~~~~~~~~~~~ Http Utils ~~~~~~~~~~~~~~~~~~~~~
func statusNotFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, `{"status": "404 not found"}`)
}

func statusBadRequest(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusBadRequest)
	body, _ := json.Marshal(map[string]string{"status": "bad request", "error": msg})
	w.Write(body)
}

func statusMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	w.WriteHeader(http.StatusMethodNotAllowed)
	fmt.Fprint(w, `{"status": "method not allowed"}`)
}

func statusInternalError(w http.ResponseWriter) {
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprint(w, `{"status": "internal server error"}`)
}
