package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"chatsync/internal/api"
	"chatsync/internal/channel"
	"chatsync/internal/config"
	"chatsync/internal/domain"
	"chatsync/internal/engine"
	"chatsync/internal/security"
	"chatsync/internal/tui"
)

// teaNavigator surfaces control instructions and engine errors to the UI.
type teaNavigator struct {
	errs chan string
}

func (n *teaNavigator) NavigateTo(path string) {
	n.push("redirect requested: " + path)
}

func (n *teaNavigator) ReportError(msg string) {
	n.push(msg)
}

func (n *teaNavigator) push(msg string) {
	select {
	case n.errs <- msg:
	default:
	}
}

func main() {
	var (
		configPath string
		directTo   string
		agentOf    string
		groupOf    string
	)

	root := &cobra.Command{
		Use:   "chat",
		Short: "Terminal chat client for a chatsync relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(configPath)
			if err != nil {
				return err
			}

			var target domain.ConversationTarget
			switch {
			case directTo != "":
				target = domain.DirectTarget(directTo)
			case agentOf != "":
				target = domain.AgentTarget(agentOf)
			case groupOf != "":
				project, client, ok := strings.Cut(groupOf, ",")
				if !ok {
					return fmt.Errorf("--group expects project,client")
				}
				target = domain.GroupTarget(project, client)
			default:
				return fmt.Errorf("one of --to, --agent, or --group is required")
			}

			return run(cfg, target)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "chat.yaml", "path to the client config file")
	root.Flags().StringVar(&directTo, "to", "", "party id for a direct conversation")
	root.Flags().StringVar(&agentOf, "agent", "", "project id for an agent conversation")
	root.Flags().StringVar(&groupOf, "group", "", "project,client ids for a group conversation")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.ClientConfig, target domain.ConversationTarget) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	tokens := security.NewTokenService(cfg.JWTSecret, 24*time.Hour)
	token, err := tokens.CreateForParty(cfg.PartyID, cfg.DisplayName)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	rest := api.NewClient(cfg.RelayURL, token, logger)
	ws := channel.NewWebSocket(cfg.WSBaseURL()+"/ws", token, logger)

	errs := make(chan string, 8)
	nav := &teaNavigator{errs: errs}

	session := engine.NewSession(engine.SessionConfig{
		Channel:   ws,
		History:   rest,
		Uploads:   rest,
		Profiles:  rest,
		Navigator: nav,
		Logger:    logger,
	})

	conv := domain.ConversationContext{LocalPartyID: cfg.PartyID, Target: target}
	identity := engine.Identity{
		LocalName:       cfg.DisplayName,
		CounterpartName: cfg.AgentName,
		Roster:          cfg.Roster,
	}

	store, err := session.SwitchContext(context.Background(), conv, identity)
	if err != nil {
		return err
	}

	changes := make(chan struct{}, 1)
	store.OnChange(func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	})

	if err := ws.Connect(context.Background()); err != nil {
		return fmt.Errorf("connecting to relay: %w", err)
	}
	defer ws.Disconnect()

	program := tea.NewProgram(tui.New(session, store, changes, errs), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
