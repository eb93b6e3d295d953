// Package health aggregates liveness of the engine's moving parts into
// one overall verdict for the health endpoint.
package health

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/metasearch-io/metasearch/internal/router"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ServiceHealth is the verdict for one subsystem.
type ServiceHealth struct {
	Name    string                 `json:"name"`
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// OverallHealth is the roll-up across all subsystems: the worst service
// status wins.
type OverallHealth struct {
	Status    string          `json:"status"`
	Services  []ServiceHealth `json:"services"`
	Timestamp time.Time       `json:"timestamp"`
}

type Checker struct {
	router *router.Router
	logger *logrus.Logger
}

func NewChecker(r *router.Router, logger *logrus.Logger) *Checker {
	return &Checker{router: r, logger: logger}
}

func (c *Checker) Check(ctx context.Context) OverallHealth {
	services := []ServiceHealth{
		c.checkSearch(),
		c.checkProviders(ctx),
		c.checkCache(ctx),
		c.checkResources(),
	}

	overall := StatusHealthy
	for _, service := range services {
		if rank(service.Status) > rank(overall) {
			overall = service.Status
		}
	}

	if overall != StatusHealthy {
		c.logger.WithField("status", overall).Warn("Health check is not healthy")
	}

	return OverallHealth{
		Status:    overall,
		Services:  services,
		Timestamp: time.Now().UTC(),
	}
}

func rank(status string) int {
	switch status {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

func (c *Checker) checkSearch() ServiceHealth {
	service := ServiceHealth{Name: "search", Status: StatusHealthy}
	if !c.router.Enabled() {
		service.Status = StatusDegraded
		service.Message = "search is disabled by configuration"
	}
	service.Details = c.router.ClassifierStats()
	return service
}

func (c *Checker) checkProviders(ctx context.Context) ServiceHealth {
	infos := c.router.ProviderStatus(ctx)

	available := 0
	for _, info := range infos {
		if info.Available {
			available++
		}
	}

	service := ServiceHealth{
		Name: "providers",
		Details: map[string]interface{}{
			"registered": len(infos),
			"available":  available,
		},
	}

	switch {
	case len(infos) == 0:
		service.Status = StatusUnhealthy
		service.Message = "no providers registered"
	case available == 0:
		service.Status = StatusUnhealthy
		service.Message = "no providers available"
	case available < len(infos):
		service.Status = StatusDegraded
		service.Message = "some providers are unavailable"
	default:
		service.Status = StatusHealthy
	}
	return service
}

func (c *Checker) checkCache(ctx context.Context) ServiceHealth {
	stats, err := c.router.CacheStats(ctx)
	if err != nil {
		return ServiceHealth{
			Name:    "cache",
			Status:  StatusDegraded,
			Message: err.Error(),
		}
	}

	service := ServiceHealth{
		Name:   "cache",
		Status: StatusHealthy,
		Details: map[string]interface{}{
			"enabled":        stats.Enabled,
			"driver":         stats.Driver,
			"total_entries":  stats.TotalEntries,
			"active_entries": stats.ActiveEntries,
		},
	}
	if !stats.Enabled {
		service.Message = "cache is disabled by configuration"
	}
	return service
}

func (c *Checker) checkResources() ServiceHealth {
	stats := c.router.ResourceStats()

	service := ServiceHealth{
		Name:   "resources",
		Status: StatusHealthy,
		Details: map[string]interface{}{
			"active_sessions": stats.ActiveSessions,
			"total_created":   stats.TotalCreated,
		},
	}
	if stats.Closed {
		service.Status = StatusUnhealthy
		service.Message = "resource manager is closed"
	}
	return service
}
