// Package log builds the slog loggers used across threadkeep.
//
// Every logger returned by NewLogger wraps its handler in a SecureHandler,
// which masks credentials before they reach the output:
//   - Reddit session cookies (reddit_session, token_v2) and OAuth client secrets
//   - language model API keys, including sk- style keys found in any value
//   - HTTP headers such as Authorization and Cookie
//   - bearer and basic credentials, JWTs and other long opaque tokens
//
// Usage:
//
//	logger := log.NewLogger(os.Stderr, log.Options{Level: slog.LevelDebug})
//	logger.Info("listing page fetched", "group", "golang", "cookie", cookie) // cookie is masked
//	slog.SetDefault(logger)
package log
