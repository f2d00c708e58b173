/*
Package log wraps zerolog with FetchBox's logging conventions: a
global Logger configured once via Init, plus context-logger helpers
(WithComponent, WithJobID, WithTenant, WithSeq) that attach structured
fields without threading a logger through every call.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	ingestLog := log.WithComponent("api").With().Str("tenant", tenant).Logger()
	ingestLog.Info().Str("job_id", jobID).Msg("job accepted")

Use Debug for per-resource detail, Info for job lifecycle events, Warn
for retryable failures, and Error for anything an operator should
investigate. Never log manifest URLs' query strings or proxy
credentials verbatim; prefer a redacted form.
*/
package log
