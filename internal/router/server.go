package router

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wires a Gate's handlers onto a gorilla/mux router and exposes the
// full HTTP surface: challenge endpoints, the maze mount (at a
// secret-derived route segment rather than a fixed literal), health and
// metrics, and the reverse-proxied origin as the fallback.
type Server struct {
	gate   *Gate
	router *mux.Router
}

// NewServer builds the HTTP surface for gate. mazeSegment is the mount
// namespace computed once at startup via maze.RouteSegment so it stays
// stable across requests but unguessable from the binary alone.
func NewServer(gate *Gate, mazeSegment string) *Server {
	gate.MazeRoute = "/_/" + mazeSegment

	r := mux.NewRouter()
	r.Use(corsMiddleware(gate))

	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)
	if gate.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/_edgegate/challenge/puzzle", gate.HandlePuzzleGet).Methods(http.MethodGet)
	r.HandleFunc("/_edgegate/challenge/puzzle", gate.HandlePuzzlePost).Methods(http.MethodPost)
	r.HandleFunc("/_edgegate/challenge/not-a-bot", gate.HandleNotABotGet).Methods(http.MethodGet)
	r.HandleFunc("/_edgegate/challenge/not-a-bot", gate.HandleNotABotPost).Methods(http.MethodPost)

	mazeRoot := gate.MazeRoute
	r.HandleFunc(mazeRoot+"/checkpoint", gate.HandleMazeCheckpoint).Methods(http.MethodPost)
	r.HandleFunc(mazeRoot+"/issue-links", gate.HandleMazeIssueLinks).Methods(http.MethodPost)
	r.PathPrefix(mazeRoot + "/assets/").HandlerFunc(gate.HandleMazeAsset).Methods(http.MethodGet)
	r.PathPrefix(mazeRoot).HandlerFunc(gate.HandleMazeTraversal).Methods(http.MethodGet)

	r.PathPrefix("/").HandlerFunc(gate.handleEnforced)

	return &Server{gate: gate, router: r}
}

// Start blocks serving HTTP on port, matching the teacher's direct
// ListenAndServe startup style.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	slog.Info("edgegate: listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Handler() http.Handler { return s.router }

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func corsMiddleware(gate *Gate) mux.MiddlewareFunc {
	origins := "*"
	if len(gate.Config.Server.CORSAllowOrigins) > 0 {
		origins = gate.Config.Server.CORSAllowOrigins[0]
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// handleEnforced runs the enforcement pipeline for any request that didn't
// match a more specific route, then dispatches to the challenge page, the
// maze, the origin, or a bare block response.
func (g *Gate) handleEnforced(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decision, rc, err := g.Evaluate(ctx, r)
	if err != nil {
		slog.Error("edgegate: evaluate failed", "error", err, "path", rc.path)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	g.Metrics.RecordEnforcement(string(decision))

	switch decision {
	case DecisionForward:
		g.forward(w, r)
	case DecisionMaze:
		g.HandleMazeTraversal(w, r)
	case DecisionChallenge:
		http.Redirect(w, r, "/_edgegate/challenge/not-a-bot", http.StatusSeeOther)
	case DecisionBlock:
		w.WriteHeader(http.StatusForbidden)
	}
}

func (g *Gate) forward(w http.ResponseWriter, r *http.Request) {
	if g.Origin == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	g.Origin.ServeHTTP(w, r)
}
