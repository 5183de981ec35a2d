package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider selection and API key validation. Every operation needs
	// an embedding provider, so at least one key must be present.
	switch c.Provider {
	case "", ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q is not supported, must be %q or %q (or empty for auto-select)",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOpenAI)
	}

	switch {
	case c.Provider == ProviderGemini && c.GeminiAPIKey == "":
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for provider %q\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey, ProviderGemini)
	case c.Provider == ProviderOpenAI && c.OpenAIAPIKey == "":
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for provider %q",
			ErrMissingAPIKey, ProviderOpenAI)
	case c.Provider == "" && c.GeminiAPIKey == "" && c.OpenAIAPIKey == "":
		return fmt.Errorf("%w: set GEMINI_API_KEY or OPENAI_API_KEY", ErrMissingAPIKey)
	}

	// 2. Vector store backend validation
	if c.VectorBackend != VectorBackendPostgres && c.VectorBackend != VectorBackendChromem {
		return fmt.Errorf("%w: %q is not supported, must be %q or %q",
			ErrInvalidVectorBackend, c.VectorBackend, VectorBackendPostgres, VectorBackendChromem)
	}

	// 3. Retrieval defaults validation
	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.TopK)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidMinScore, c.MinScore)
	}

	// 4. PostgreSQL configuration validation. The resource registry and
	// query log always live in PostgreSQL, regardless of vector backend.
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn on the default dev password but don't block, the user might be in dev.
	if c.PostgresPassword == "campusmind_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// 5. PostgreSQL SSL mode validation. Modern modes only: 'allow' and
	// 'prefer' are deprecated (vulnerable to MITM).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
