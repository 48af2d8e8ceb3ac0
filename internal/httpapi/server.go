// Package httpapi exposes the WhatsApp webhook, the report history API
// and the live log stream.
package httpapi

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/hackerxj2010/ttuex-bot-v2/internal/config"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/logbus"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/runner"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/store/sqlite"
	"github.com/hackerxj2010/ttuex-bot-v2/internal/ws"
)

type Options struct {
	Cfg    config.Config
	Bus    *logbus.Bus
	Store  *sqlite.Store
	Runner *runner.Runner
}

type Server struct {
	cfg    config.Config
	bus    *logbus.Bus
	log    *logbus.Logger
	store  *sqlite.Store
	runner *runner.Runner
	ws     *ws.Handler

	// One browser batch at a time. Twilio retries webhooks, and two
	// concurrent Chromium fleets would fight over the same sessions.
	running atomic.Bool
}

func New(opts Options) *Server {
	return &Server{
		cfg:    opts.Cfg,
		bus:    opts.Bus,
		log:    opts.Bus.With(logbus.Fields{"component": "httpapi"}),
		store:  opts.Store,
		runner: opts.Runner,
		ws:     ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/webhook/whatsapp", s.handleWhatsApp)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/reports", s.handleReports)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleWhatsApp accepts Twilio webhook form posts. The only command is
// "copy <order_number>"; everything else gets a usage reply.
func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid form payload"})
		return
	}
	from := strings.TrimSpace(r.PostFormValue("From"))
	body := strings.TrimSpace(r.PostFormValue("Body"))
	s.log.Info("incoming whatsapp message", logbus.Fields{"from": from, "body": body})

	if from == "" || body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing 'From' or 'Body' fields"})
		return
	}

	parts := strings.Fields(strings.ToLower(body))
	if len(parts) != 2 || parts[0] != "copy" {
		s.log.Warn("invalid whatsapp command", logbus.Fields{"body": body})
		writeTwiML(w, "❌ Commande non valide. Veuillez utiliser le format : copy <numéro_ordre>")
		return
	}
	orderNumber := parts[1]

	if !s.running.CompareAndSwap(false, true) {
		writeTwiML(w, "⏳ Une exécution est déjà en cours. Réessayez dans quelques minutes.")
		return
	}
	go func() {
		defer s.running.Store(false)
		s.log.Info("starting background copy trade", logbus.Fields{"orderNumber": orderNumber})
		results, err := s.runner.CopyTrade(context.Background(), orderNumber, runner.Options{Trigger: "whatsapp"})
		if err != nil {
			s.log.Error("background copy trade failed", logbus.Fields{"orderNumber": orderNumber, "error": err.Error()})
			return
		}
		succeeded := 0
		for _, res := range results {
			if res.Err == nil && res.Report != nil && res.Report.Success {
				succeeded++
			}
		}
		s.log.Info("background copy trade finished", logbus.Fields{
			"orderNumber": orderNumber,
			"accounts":    len(results),
			"succeeded":   succeeded,
		})
	}()

	writeTwiML(w, fmt.Sprintf("✅ Commande reçue ! Démarrage du copy trading pour l'ordre : %s. Vous recevrez une notification à la fin.", orderNumber))
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "report storage disabled"})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be in 1..500"})
			return
		}
		limit = n
	}
	reports, err := s.store.ListReports(r.Context(), r.URL.Query().Get("account"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": reports})
}

// twimlResponse is the minimal Twilio messaging reply document.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message"`
}

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(twimlResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
