package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chatsync/internal/config"
	"chatsync/internal/domain"
	"chatsync/internal/security"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// CurrentClaims extracts the authenticated party from the request context.
func CurrentClaims(r *http.Request) (security.Claims, bool) {
	c, ok := r.Context().Value(claimsContextKey).(security.Claims)
	return c, ok
}

// AuthMiddleware validates the Bearer token and attaches the claims to the
// request context.
func AuthMiddleware(tokens *security.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			claims, err := tokens.Parse(tokenStr)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewRouter constructs the relay's HTTP router and wires routes, services,
// and middleware.
func NewRouter(cfg *config.RelayConfig, hub *Hub, transcript *Transcript, tokens *security.TokenService) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	agent := NewAgent(hub, transcript)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(tokens))

		r.Get("/history", handleHistory(transcript))
		r.Get("/profile", handleProfile())
		r.Mount("/uploads", UploadRoutes(cfg))
	})

	// Event channel endpoint
	r.Get("/ws", MakeWSHandler(hub, tokens, transcript, agent, cfg.CORSOrigins))

	return r
}

// handleHistory serves the channel transcript in chronological order. The
// channel query parameter is the counterpart id from the caller's point of
// view; direct conversations resolve to the normalized pair key.
func handleHistory(transcript *Transcript) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := CurrentClaims(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		channel := r.URL.Query().Get("channel")
		if channel == "" {
			http.Error(w, "missing channel parameter", http.StatusBadRequest)
			return
		}

		key := channel
		if domain.ParseChannelID(channel).Kind == domain.TargetDirect {
			key = PairKey(claims.PartyID, channel)
		}
		writeJSON(w, http.StatusOK, transcript.List(key))
	}
}

// handleProfile returns the caller's cached profile from the token claims.
func handleProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := CurrentClaims(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		name := claims.DisplayName
		if name == "" {
			name = claims.PartyID
		}
		writeJSON(w, http.StatusOK, domain.Profile{
			DisplayName:    name,
			AvatarInitials: initials(name),
		})
	}
}

func initials(name string) string {
	var out []rune
	for _, word := range strings.Fields(name) {
		r := []rune(word)
		out = append(out, r[0])
		if len(out) == 2 {
			break
		}
	}
	return strings.ToUpper(string(out))
}

// UploadRoutes returns the sub-router mounted at /api/uploads: multipart
// upload returning attachment metadata, and static serving of stored files.
func UploadRoutes(cfg *config.RelayConfig) chi.Router {
	r := chi.NewRouter()

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(50 << 20); err != nil { // 50MB limit
			http.Error(w, "failed to parse multipart form", http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		ext := filepath.Ext(header.Filename)
		stored := strconv.FormatInt(time.Now().UnixNano(), 10) + ext
		destPath := filepath.Join(cfg.UploadDir, stored)

		out, err := os.Create(destPath)
		if err != nil {
			http.Error(w, "could not create file", http.StatusInternalServerError)
			return
		}
		defer out.Close()

		size, err := io.Copy(out, file)
		if err != nil {
			http.Error(w, "could not save file", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, domain.FileAttachment{
			Filename:    header.Filename,
			URL:         "/api/uploads/" + url.PathEscape(stored),
			SizeBytes:   size,
			ContentType: header.Header.Get("Content-Type"),
		})
	})

	r.Get("/{filename}", func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		if filename == "" {
			http.Error(w, "missing filename", http.StatusBadRequest)
			return
		}
		// Prevent path traversal: reject anything that is not a bare name.
		if filepath.Base(filename) != filename {
			http.Error(w, "invalid filename", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(cfg.UploadDir, filename))
	})

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
