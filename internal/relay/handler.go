package relay

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"chatsync/internal/domain"
	"chatsync/internal/security"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			// Non-browser clients (the terminal client, tests) send no
			// Origin header; only cross-origin browser traffic is vetted.
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeWSHandler returns the HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or
// Sec-WebSocket-Protocol), then relays events:
//   - message -> store with a server id, echo to every participant
//   - typing  -> forward to the other participants, never stored
//
// Messages addressed to an agent channel additionally trigger the built-in
// agent responder.
func MakeWSHandler(
	hub *Hub,
	tokens *security.TokenService,
	transcript *Transcript,
	agent *Agent,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hub.Register(claims.PartyID, conn)
		defer hub.Unregister(claims.PartyID, conn)

		for {
			var ev domain.Event
			if err := conn.ReadJSON(&ev); err != nil {
				break
			}
			// The sender identity comes from the token, not the payload.
			ev.SenderID = claims.PartyID

			switch ev.Type {
			case domain.EventMessage:
				stored, _ := transcript.Store(ev)
				// Redelivered publishes re-broadcast the original event;
				// clients dedupe by id.
				hub.BroadcastToParties(participants(transcript, stored), stored)

				if target := domain.ParseChannelID(stored.RecipientID); target.Kind == domain.TargetAgent && agent != nil {
					agent.Respond(target, claims.PartyID, stored.Content)
				}

			case domain.EventTyping:
				others := make([]string, 0, 2)
				for _, pid := range participants(transcript, ev) {
					if pid != claims.PartyID {
						others = append(others, pid)
					}
				}
				hub.BroadcastToParties(others, ev)

			default:
				log.Printf("relay: unknown event type %q from party %s", ev.Type, claims.PartyID)
			}
		}
	}
}

// participants resolves the party ids an event should be delivered to,
// including the sender (the echo doubles as the delivery acknowledgement).
func participants(transcript *Transcript, ev domain.Event) []string {
	target := domain.ParseChannelID(ev.RecipientID)
	switch target.Kind {
	case domain.TargetDirect:
		if ev.SenderID == ev.RecipientID {
			return []string{ev.SenderID}
		}
		return []string{ev.SenderID, ev.RecipientID}
	default:
		// Synthetic channels deliver to everyone who has taken part,
		// the sender included.
		key := ChannelKey(ev.SenderID, ev.RecipientID)
		parties := transcript.Parties(key)
		for _, p := range parties {
			if p == ev.SenderID {
				return parties
			}
		}
		return append(parties, ev.SenderID)
	}
}
