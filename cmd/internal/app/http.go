package app

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lyra/cmd/internal/relay"

	"github.com/jackc/pgx/v5/pgxpool"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	ws *relay.WSGateway,
	metrics *Metrics,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	mux.HandleFunc("/state", handleState(log, ws))
	mux.HandleFunc("/history", handleHistory(log, ws))

	mux.HandleFunc("/ws", ws.HandleWS)
}

// handleState serves the current playback snapshot of a channel.
func handleState(log Logger, ws *relay.WSGateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID := strings.TrimSpace(r.URL.Query().Get("channel"))
		if channelID == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}

		state, ok := ws.Hub().Snapshot(channelID)
		if !ok {
			http.Error(w, "unknown channel", http.StatusNotFound)
			return
		}

		writeJSON(w, log, http.StatusOK, map[string]any{
			"channelId": channelID,
			"state":     state,
		})
	}
}

// handleHistory serves the channel's recent plays, newest first.
func handleHistory(log Logger, ws *relay.WSGateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		channelID := strings.TrimSpace(q.Get("channel"))
		if channelID == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}

		limit := 0
		if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		out, err := ws.Store().RecentPlays(r.Context(), relay.RecentPlaysInput{
			ChannelID: channelID,
			Limit:     limit,
		})
		if err != nil {
			log.Error("history.fetch.fail", "channel_id", channelID, "err", err)
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}

		plays := out.Plays
		if plays == nil {
			plays = []relay.PlayRecord{}
		}

		writeJSON(w, log, http.StatusOK, map[string]any{
			"channelId": channelID,
			"plays":     plays,
			"hasMore":   out.HasMore,
		})
	}
}

func writeJSON(w http.ResponseWriter, log Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("http.json.encode_fail", "err", err)
	}
}
