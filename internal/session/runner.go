package session

import (
	"context"

	"go.uber.org/zap"

	"ticketbot/internal/browser"
	"ticketbot/internal/config"
	"ticketbot/internal/resolver"
	"ticketbot/internal/workflow"
)

// WorkflowRunner returns a RunFunc that drives the ticket workflow. Learned
// selectors are kept per session.
func WorkflowRunner(catalog config.Catalog, opts workflow.Options, ropts resolver.Options, logger *zap.Logger) RunFunc {
	return func(ctx context.Context, sessionID string, page browser.Page, req Request, progress func(string)) workflow.Result {
		log := logger.With(zap.String("session_id", sessionID))
		res := resolver.New(catalog, resolver.NewMemory(), ropts, log)
		c := workflow.New(page, res, opts, log)
		c.OnStep(progress)
		return c.Run(ctx, req.Credentials, req.Ticket)
	}
}
