package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/feedbird/feedbird/internal/pkg/billing"
	"github.com/feedbird/feedbird/internal/pkg/cycle"
	"github.com/feedbird/feedbird/internal/pkg/database"
	"github.com/feedbird/feedbird/internal/pkg/env"
	"github.com/feedbird/feedbird/internal/pkg/eventarchive"
	"github.com/feedbird/feedbird/internal/pkg/usage"
	"github.com/feedbird/feedbird/internal/pkg/visibility"
)

const (
	defaultSweepIntervalMinutes     = 60
	defaultRetentionIntervalMinutes = 24 * 60
)

// Manager runs the periodic background tasks: the billing cycle sweep and the
// webhook event retention job.
type Manager struct {
	cycleService    *cycle.Service
	retention       *eventarchive.Retention
	sweepTicker     *time.Ticker
	retentionTicker *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global background task manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		db := database.GetDB()
		usageService := usage.NewServiceFromDB(db)
		visibilityService := visibility.NewServiceFromDB(db)
		m := &Manager{
			cycleService: cycle.NewServiceFromDB(db, usageService, visibilityService),
			stopCh:       make(chan struct{}),
		}

		archiveCfg, err := eventarchive.LoadConfig()
		if err != nil {
			log.Errorf("[Scheduler] Event archive disabled, invalid config: %v", err)
		} else if archiveCfg.IsEnabled() {
			client, err := eventarchive.NewClient(archiveCfg)
			if err != nil {
				log.Errorf("[Scheduler] Event archive disabled, S3 client setup failed: %v", err)
			} else {
				m.retention = eventarchive.NewRetention(billing.NewRepository(db), client, archiveCfg)
			}
		}

		globalManager = m
	})
	return globalManager
}

// Start starts the background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler] Starting background tasks")

	m.sweepTicker = time.NewTicker(sweepInterval())
	m.wg.Add(1)
	go m.sweepWorker()

	if m.retention != nil {
		m.retentionTicker = time.NewTicker(retentionInterval())
		m.wg.Add(1)
		go m.retentionWorker()
	}

	log.Info("[Scheduler] Started successfully")
}

// Stop stops the background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Scheduler] Stopping background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.retentionTicker != nil {
		m.retentionTicker.Stop()
	}

	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	m.wg.Wait()

	log.Info("[Scheduler] Stopped successfully")
}

// sweepWorker runs the billing cycle sweep on its interval
func (m *Manager) sweepWorker() {
	defer m.wg.Done()
	log.Infof("[Scheduler] Started cycle sweep worker (interval: %s)", sweepInterval())

	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Cycle sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			if err := m.runSweepOnce(); err != nil {
				log.Errorf("[Scheduler] Cycle sweep error: %v", err)
			}
		}
	}
}

// retentionWorker prunes aged processed webhook events on its interval
func (m *Manager) retentionWorker() {
	defer m.wg.Done()
	log.Infof("[Scheduler] Started event retention worker (interval: %s)", retentionInterval())

	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Event retention worker stopping")
			return
		case <-m.retentionTicker.C:
			if err := m.runRetentionOnce(); err != nil {
				log.Errorf("[Scheduler] Event retention error: %v", err)
			}
		}
	}
}

func (m *Manager) runSweepOnce() error {
	result, err := m.cycleService.SweepDueAccounts(context.Background(), time.Now())
	if err != nil {
		return err
	}
	if result.ResetCount > 0 || len(result.Failures) > 0 {
		log.Infof("[Scheduler] Cycle sweep finished: %d reset, %d skipped, %d failed",
			result.ResetCount, result.Skipped, len(result.Failures))
	}
	return nil
}

func (m *Manager) runRetentionOnce() error {
	pruned, err := m.retention.Run(context.Background(), time.Now())
	if err != nil {
		return err
	}
	if pruned > 0 {
		log.Infof("[Scheduler] Event retention pruned %d processed webhook events", pruned)
	}
	return nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunSweepOnce exposes a manual trigger for a single cycle sweep (admin use).
func (m *Manager) RunSweepOnce() error {
	return m.runSweepOnce()
}

func sweepInterval() time.Duration {
	return intervalFromEnv("CYCLE_SWEEP_INTERVAL_MINUTES", defaultSweepIntervalMinutes)
}

func retentionInterval() time.Duration {
	return intervalFromEnv("EVENT_RETENTION_INTERVAL_MINUTES", defaultRetentionIntervalMinutes)
}

func intervalFromEnv(key string, fallback int) time.Duration {
	minutes := fallback
	if v := env.GetEnv(key, ""); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			minutes = parsed
		}
	}
	return time.Duration(minutes) * time.Minute
}
