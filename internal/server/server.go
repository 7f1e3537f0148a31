package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"ecobot/internal/anticheat"
	"ecobot/internal/battle"
	"ecobot/internal/clock"
	"ecobot/internal/content"
	"ecobot/internal/cooldown"
	"ecobot/internal/economy"
	"ecobot/internal/minigame"
	"ecobot/internal/raid"
	"ecobot/internal/rng"
	"ecobot/internal/trade"
)

const maxBodySize = 1 << 20

// Deps are the collaborators a Server is built from. Nil Clock and Rand use
// the real ones, a nil Game uses DefaultGameConfig and a nil Logger discards.
type Deps struct {
	Store  *economy.Store
	Tables *content.Tables
	Game   *GameConfig
	Logger *slog.Logger
	Clock  clock.Clock
	Rand   rng.Source
}

// Server wraps the engines, their HTTP handlers and configuration.
type Server struct {
	cfg             Config
	logger          *slog.Logger
	mux             *http.ServeMux
	allowedOrigins  []string
	allowAllOrigins bool

	store     *economy.Store
	hub       *Hub
	cooldowns *cooldown.Registry
	detector  *anticheat.Detector
	games     *minigame.Gate
	trades    *trade.Engine
	battles   *battle.Engine
	raids     *raid.Engine
}

// New constructs a Server with engines, routes and middleware configured.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server: store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	src := deps.Rand
	if src == nil {
		src = rng.New()
	}
	tables := deps.Tables
	if tables == nil {
		tables = content.Default()
	}
	game := DefaultGameConfig()
	if deps.Game != nil {
		game = *deps.Game
		deps.Store.SetRates(game.Rates)
	}

	hub := NewHub(logger.With(slog.String("component", "ws")))
	cooldowns := cooldown.New(cooldown.WithClock(clk))
	detector := anticheat.New(anticheat.WithClock(clk), anticheat.WithThresholds(game.Anticheat))

	srv := &Server{
		cfg:            cfg,
		logger:         logger,
		mux:            http.NewServeMux(),
		allowedOrigins: cfg.AllowedOrigins,
		store:          deps.Store,
		hub:            hub,
		cooldowns:      cooldowns,
		detector:       detector,
		games: minigame.New(deps.Store, cooldowns, detector,
			minigame.WithClock(clk),
			minigame.WithRand(src),
			minigame.WithLogger(logger.With(slog.String("component", "minigame"))),
			minigame.WithGames(game.Minigame),
		),
		trades: trade.New(deps.Store,
			trade.WithClock(clk),
			trade.WithTTL(game.Trade.TTL),
			trade.WithNotifier(hub),
			trade.WithLogger(logger.With(slog.String("component", "trade"))),
		),
		battles: battle.New(deps.Store, tables,
			battle.WithClock(clk),
			battle.WithRand(src),
			battle.WithNotifier(hub),
			battle.WithLogger(logger.With(slog.String("component", "battle"))),
			battle.WithConfig(game.Battle),
		),
		raids: raid.New(deps.Store, tables,
			raid.WithClock(clk),
			raid.WithRand(src),
			raid.WithNotifier(hub),
			raid.WithLogger(logger.With(slog.String("component", "raid"))),
			raid.WithConfig(game.Raid),
		),
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			srv.allowAllOrigins = true
		}
	}

	srv.routes()
	return srv, nil
}

// Router returns the fully wrapped handler.
func (s *Server) Router() http.Handler {
	return s.withCORS(s.loggingMiddleware(s.mux))
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := ":" + s.cfg.Port
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
		return httpSrv.Close()
	}
	s.logger.Info("server shutdown complete")
	return nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleWebsocket)

	s.mux.HandleFunc("POST /battles", s.handleBattleStart)
	s.mux.HandleFunc("GET /battles/skills", s.handleBattleSkills)
	s.mux.HandleFunc("GET /battles/{id}", s.handleBattleGet)
	s.mux.HandleFunc("POST /battles/{id}/skills", s.handleBattleSkill)
	s.mux.HandleFunc("POST /battles/{id}/withdraw", s.handleBattleWithdraw)

	s.mux.HandleFunc("POST /raids", s.handleRaidCreate)
	s.mux.HandleFunc("GET /raids/{id}", s.handleRaidGet)
	s.mux.HandleFunc("GET /raids/by-message/{messageId}", s.handleRaidByMessage)
	s.mux.HandleFunc("POST /raids/{id}/message", s.handleRaidBind)
	s.mux.HandleFunc("POST /raids/{id}/join", s.handleRaidJoin)
	s.mux.HandleFunc("POST /raids/{id}/respond", s.handleRaidRespond)
	s.mux.HandleFunc("POST /raids/{id}/{action}", s.handleRaidAction)

	s.mux.HandleFunc("POST /trades", s.handleTradeCreate)
	s.mux.HandleFunc("GET /trades/{id}", s.handleTradeGet)
	s.mux.HandleFunc("GET /trades/by-message/{messageId}", s.handleTradeByMessage)
	s.mux.HandleFunc("GET /trades/by-user/{userId}", s.handleTradeByUser)
	s.mux.HandleFunc("POST /trades/{id}/message", s.handleTradeBind)
	s.mux.HandleFunc("POST /trades/{id}/offer", s.handleTradeOffer)
	s.mux.HandleFunc("POST /trades/{id}/confirm", s.handleTradeConfirm)
	s.mux.HandleFunc("POST /trades/{id}/cancel", s.handleTradeCancel)

	s.mux.HandleFunc("POST /cooldowns/check", s.handleCooldownCheck)
	s.mux.HandleFunc("POST /sequences/{key}/samples", s.handleSequenceSample)
	s.mux.HandleFunc("DELETE /sequences/{key}", s.handleSequenceReset)

	s.mux.HandleFunc("POST /minigames/{kind}", s.handleMinigameBegin)
	s.mux.HandleFunc("GET /minigames/attempts/{id}", s.handleMinigameGet)
	s.mux.HandleFunc("DELETE /minigames/attempts/{id}", s.handleMinigameAbandon)
	s.mux.HandleFunc("POST /minigames/attempts/{id}/click", s.handleMinigameClick)
	s.mux.HandleFunc("POST /minigames/attempts/{id}/finish", s.handleMinigameFinish)

	s.mux.HandleFunc("GET /players/{id}", s.handlePlayer)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.Info("request", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Int("status", rw.status), slog.Duration("duration", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Hijack allows WebSocket handlers to upgrade the connection through the wrapped writer.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return false
	}
	return true
}

// requireUser rejects requests whose body carried no userId.
func requireUser(w http.ResponseWriter, userID string) bool {
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// SweepStats counts what one maintenance pass removed.
type SweepStats struct {
	Cooldowns int
	Sequences int
	Attempts  int
	Battles   int
	Lobbies   int
}

// Sweep drops expired cooldowns, stale click sequences and minigame
// attempts, idle battles and raid lobbies that never started.
func (s *Server) Sweep() SweepStats {
	return SweepStats{
		Cooldowns: s.cooldowns.Sweep(),
		Sequences: s.detector.Prune(),
		Attempts:  s.games.Sweep(),
		Battles:   s.battles.Sweep(0),
		Lobbies:   s.raids.Sweep(0),
	}
}

// RunMaintenance calls Sweep every interval until ctx is cancelled.
func (s *Server) RunMaintenance(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("maintenance interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := s.Sweep()
			s.logger.Debug("maintenance",
				slog.Int("cooldowns", st.Cooldowns),
				slog.Int("sequences", st.Sequences),
				slog.Int("attempts", st.Attempts),
				slog.Int("battles", st.Battles),
				slog.Int("lobbies", st.Lobbies),
			)
		}
	}
}
