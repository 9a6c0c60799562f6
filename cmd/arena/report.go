package main

import (
	"bot-arena/internal/game"

	"github.com/getsentry/sentry-go"
)

// faultReporter sends agent faults to Sentry, one cloned hub per report.
func faultReporter() game.Hooks {
	return game.Hooks{
		OnFault: func(f *game.AgentFault) {
			hub := sentry.CurrentHub().Clone()
			hub.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("agent", f.Agent)
				scope.SetTag("capability", f.Capability)
				scope.SetContext("fault", sentry.Context{
					"ordinal": f.Ordinal,
					"stack":   string(f.Stack),
				})
			})
			hub.CaptureException(f)
		},
	}
}
