package adkbridge

import (
	"context"
	"fmt"

	"google.golang.org/adk/agent"
	adkrunner "google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"
)

// RunInput defines one turn of an ADK agent on a fresh in-memory session.
type RunInput struct {
	AppName      string
	UserID       string
	SessionID    string
	Agent        agent.Agent
	InitialState map[string]any
	Message      *genai.Content
	OnEvent      func(*session.Event)
}

// Run executes an ADK agent through the ADK runner and returns the final
// session.
func Run(ctx context.Context, input RunInput) (session.Session, error) {
	if input.Agent == nil {
		return nil, fmt.Errorf("agent is required")
	}

	appName := input.AppName
	if appName == "" {
		appName = input.Agent.Name()
	}
	userID := input.UserID
	if userID == "" {
		userID = "adkx-user"
	}

	sessionService := session.InMemoryService()
	r, err := adkrunner.New(adkrunner.Config{
		AppName:        appName,
		Agent:          input.Agent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, fmt.Errorf("create ADK runner: %w", err)
	}

	created, err := sessionService.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: input.SessionID,
		State:     input.InitialState,
	})
	if err != nil {
		return nil, fmt.Errorf("create ADK session: %w", err)
	}

	for ev, runErr := range r.Run(ctx, userID, created.Session.ID(), input.Message, agent.RunConfig{}) {
		if runErr != nil {
			return nil, runErr
		}
		if input.OnEvent != nil && ev != nil {
			input.OnEvent(ev)
		}
	}

	final, err := sessionService.Get(ctx, &session.GetRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: created.Session.ID(),
	})
	if err != nil {
		return nil, fmt.Errorf("get ADK session: %w", err)
	}
	return final.Session, nil
}
