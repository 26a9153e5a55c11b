package services

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/lumora/affinity/internal/config"
	"github.com/lumora/affinity/internal/database"
)

// HealthService aggregates subsystem probes. Graph and Redis are critical:
// without them neither admission nor orchestration can work. The vector
// store and broker degrade the service but do not take it down.
type HealthService struct {
	config *config.Config
	logger *logrus.Logger
	db     *database.Database
	graph  GraphStore
	vector VectorStore
	broker EventBroker

	healthCheckStatus *prometheus.GaugeVec
	lastHealthCheck   *prometheus.GaugeVec
	systemMetrics     *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func NewHealthService(cfg *config.Config, logger *logrus.Logger, db *database.Database, store GraphStore, vec VectorStore, broker EventBroker) *HealthService {
	hs := &HealthService{
		config: cfg,
		logger: logger,
		db:     db,
		graph:  store,
		vector: vec,
		broker: broker,
	}

	hs.healthCheckStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastHealthCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	hs.systemMetrics = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "system_info",
		Help: "System information metrics",
	}, []string{"metric_type"})

	// Re-registration happens in tests; tolerate it.
	for _, collector := range []prometheus.Collector{hs.healthCheckStatus, hs.lastHealthCheck, hs.systemMetrics} {
		if err := prometheus.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.WithError(err).Warn("Failed to register health metric")
			}
		}
	}

	go hs.collectSystemMetrics()

	return hs
}

func (s *HealthService) CheckHealth() *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
		Details:   make(map[string]interface{}),
	}

	criticalServices := map[string]func() error{
		"graph": s.checkGraph,
		"redis": s.checkRedis,
	}
	nonCriticalServices := map[string]func() error{
		"vector": s.checkVector,
		"broker": s.checkBroker,
	}

	allCriticalHealthy := true
	for name, checkFunc := range criticalServices {
		if err := checkFunc(); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", name)
			s.updateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.updateHealthMetrics(name, true)
		}
	}

	for name, checkFunc := range nonCriticalServices {
		if err := checkFunc(); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", name)
			s.updateHealthMetrics(name, false)
		} else {
			status.Services[name] = "healthy"
			s.updateHealthMetrics(name, true)
		}
	}

	s.attachDetails(status)

	if allCriticalHealthy {
		if len(status.NonCritical) == 0 {
			status.Status = "healthy"
		} else {
			status.Status = "degraded"
		}
	} else {
		status.Status = "unhealthy"
	}

	return status
}

// attachDetails adds graph counts, vector point count and broker queue
// depths for subsystems that are up.
func (s *HealthService) attachDetails(status *HealthStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if status.Services["graph"] == "healthy" && s.graph != nil {
		if stats, err := s.graph.Stats(ctx); err == nil {
			status.Details["graph"] = stats
		}
	}

	if status.Services["vector"] == "healthy" && s.vector != nil {
		if info, err := s.vector.GetCollectionInfo(ctx); err == nil {
			status.Details["vector"] = info
		}
	}

	if status.Services["broker"] == "healthy" && s.broker != nil {
		status.Details["broker"] = s.broker.Health()
	}
}

func (s *HealthService) checkGraph() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.Graph.VerifyConnectivity(ctx)
}

func (s *HealthService) checkRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.Redis.Ping(ctx).Err()
}

func (s *HealthService) checkVector() error {
	if s.vector == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.vector.Healthy(ctx)
}

func (s *HealthService) checkBroker() error {
	if s.broker == nil {
		return nil
	}
	health := s.broker.Health()
	if health.Status != "healthy" {
		return errBrokerUnhealthy(health.Error)
	}
	return nil
}

type errBrokerUnhealthy string

func (e errBrokerUnhealthy) Error() string {
	if e == "" {
		return "broker unhealthy"
	}
	return "broker unhealthy: " + string(e)
}

func (s *HealthService) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var memStats runtime.MemStats

	for range ticker.C {
		runtime.ReadMemStats(&memStats)

		s.systemMetrics.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
		s.systemMetrics.WithLabelValues("memory_sys_bytes").Set(float64(memStats.Sys))
		s.systemMetrics.WithLabelValues("goroutines_count").Set(float64(runtime.NumGoroutine()))
		s.systemMetrics.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))
	}
}

func (s *HealthService) updateHealthMetrics(serviceName string, healthy bool) {
	if healthy {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.healthCheckStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
