package main

import (
	"bytes"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/CTAG07/safetmpl/pkg/store"
	"github.com/CTAG07/safetmpl/pkg/templating"
)

type Server struct {
	cm          *ConfigManager
	db          *sql.DB
	logger      *slog.Logger
	store       *store.Store
	tm          *templating.TemplateManager
	authAPI     *AuthAPI
	templateAPI *TemplateAPI
	serverAPI   *ServerAPI
	renderMux   *http.ServeMux
	apiMux      *http.ServeMux
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {
	config := cm.Get()

	st, err := store.New(db)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare template store: %w", err)
	}
	st.SetLogger(logger)

	tm, err := templating.NewTemplateManager(logger, st, config.Templates, config.Server.DataDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}
	cm.SetTemplateManager(tm)

	server := &Server{
		cm:          cm,
		db:          db,
		logger:      logger,
		store:       st,
		tm:          tm,
		authAPI:     NewAuthAPI(db, logger),
		templateAPI: NewTemplateAPI(tm, st, logger),
		serverAPI:   NewServerAPI(cm, actionChan, logger),
		renderMux:   http.NewServeMux(),
		apiMux:      http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Every api route passes through authentication first...
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, so something like docker can use it.
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	server.renderMux.HandleFunc("/favicon.ico", handleFavicon)
	server.renderMux.HandleFunc("/render/{name}", server.handleRender)

	return server, nil
}

// Close releases the store's prepared statements.
func (s *Server) Close() {
	s.cm.SetTemplateManager(nil)
	s.store.Close()
}

// handleRender renders a listed template. Partials are not served directly.
// Query parameters become the template data; the request path and client
// address are passed as options.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.PathValue("name")
	if !s.tm.HasTemplate(name) {
		http.NotFound(w, r)
		return
	}
	ipAddr := s.getClientIP(r)

	data := make(map[string]any)
	for key, values := range r.URL.Query() {
		if len(values) == 1 {
			data[key] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		data[key] = list
	}
	options := map[string]any{
		"path":      r.URL.Path,
		"client_ip": ipAddr,
	}

	var buf bytes.Buffer
	if err := s.tm.Execute(&buf, name, data, options); err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("Failed to execute template", "template", name, "remote_addr", ipAddr, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("Rendered template", "template", name, "remote_addr", ipAddr, "bytes", buf.Len())
	s.setRenderHeaders(w)
	_, _ = buf.WriteTo(w)
}

func (s *Server) setRenderHeaders(w http.ResponseWriter) {
	config := s.cm.Get()
	for key, value := range config.Server.RenderHeaders {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
}

// getClientIP honours forwarding headers only from trusted proxies.
func (s *Server) getClientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// No port, use the address as is.
		remote = r.RemoteAddr
	}
	if !s.cm.IsTrusted(remote) {
		return remote
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}
	// The first entry of X-Forwarded-For is the original client.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}
	return remote
}

// handleFavicon answers favicon requests with no content.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
