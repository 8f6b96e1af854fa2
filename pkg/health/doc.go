/*
Package health checks the reachability of Engram's external dependencies.

Engram has exactly two dependencies that live outside the process: the LLM
used by the Extractor and the embedding provider used by
pkg/embedding.Chain. Both are plain HTTP endpoints, so this package keeps
only the HTTP and TCP checkers; an exec-into-container checker had no
Engram equivalent and was dropped.

# Usage

	checker := health.NewHTTPChecker(cfg.LLMBaseURL + "/models").
		WithHeader("Authorization", "Bearer "+cfg.OpenAIAPIKey).
		WithTimeout(5 * time.Second)

	status := health.NewStatus()
	config := health.DefaultConfig()

	result := checker.Check(ctx)
	status.Update(result, config)
	if !status.Healthy {
		metrics.RegisterComponent("llm", false, result.Message)
	}

The daemon's maintenance loop runs this on the same 60s cadence as
eviction and pruning, feeding the result into pkg/metrics's component
registry so /health reports degraded rather than just going quiet.
*/
package health
