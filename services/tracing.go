package services

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("github.com/pilab-dev/shadow-auth/services")
