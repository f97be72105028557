// Package observability builds the service logger.
//
// Components receive a *zap.Logger through their constructors; request
// handlers derive a request-scoped logger with ForRequest so every line
// written while serving a request carries its request_id.
package observability
