// Package notify is the boundary to the user-visible notice presenter.
// The presentation itself (toasts, banners) is an external collaborator;
// this core only emits.
package notify

import "github.com/rs/zerolog/log"

// Notifier receives user-visible notices.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Error(msg string)
}

// Log writes notices to the structured log. Default sink for headless
// runs.
type Log struct{}

func (Log) Info(msg string)    { log.Info().Str("notice", "info").Msg(msg) }
func (Log) Success(msg string) { log.Info().Str("notice", "success").Msg(msg) }
func (Log) Error(msg string)   { log.Warn().Str("notice", "error").Msg(msg) }

// Nop discards notices.
type Nop struct{}

func (Nop) Info(string)    {}
func (Nop) Success(string) {}
func (Nop) Error(string)   {}
