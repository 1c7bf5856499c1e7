// Package adapter contains implementations of interfaces defined in app.
// DynamoDB stores, the Redis admission counter, and the HTTP/SNS bridges to
// the rest of the platform live here.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("gateway/adapter")
