package store

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("SyncBoard/internal/store")
