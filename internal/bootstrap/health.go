package bootstrap

import (
	"github.com/turtacn/molingest/internal/interfaces/http/handlers"
)

// HealthCheckers lists a readiness probe for every opened network backend.
// Local storage and in-process caches have nothing to probe. The chemistry
// engine is left out: rows are still validated, degraded, without it.
func (i *Infra) HealthCheckers() []handlers.HealthChecker {
	var checks []handlers.HealthChecker
	if i.DB != nil {
		checks = append(checks, handlers.Check("postgres", i.DB.HealthCheck))
	}
	if i.Redis != nil {
		checks = append(checks, handlers.Check("redis", i.Redis.Ping))
	}
	if i.MinIO != nil {
		checks = append(checks, handlers.Check("minio", i.MinIO.HealthCheck))
	}
	if i.Milvus != nil {
		checks = append(checks, handlers.Check("milvus", i.Milvus.CheckHealth))
	}
	return checks
}
