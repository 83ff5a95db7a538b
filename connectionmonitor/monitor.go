package connectionmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultHealthCheckInterval defines interval between connection health checks
	DefaultHealthCheckInterval = 30 * time.Second
	// defaultReconnectDelay defines the pause between reconnection attempts
	defaultReconnectDelay = 5 * time.Second
	// maxReconnectAttempts defines maximum number of reconnection attempts
	maxReconnectAttempts = 3
)

// ConnectionMonitor represents connection state monitoring interface
type ConnectionMonitor interface {
	// Start starts connection monitoring
	Start(ctx context.Context) error
	// Stop stops connection monitoring
	Stop()
}

// ChainConnection is the RPC connection being monitored.
type ChainConnection interface {
	// CheckConnection checks if connection is alive
	CheckConnection(ctx context.Context) error
	// Reconnect attempts to reconnect to the node
	Reconnect(ctx context.Context) error
}

// Option configures a connection monitor.
type Option func(*connectionMonitor)

// WithHealthCheckInterval sets the interval between health checks.
func WithHealthCheckInterval(interval time.Duration) Option {
	return func(m *connectionMonitor) {
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithReconnectDelay sets the pause between reconnection attempts.
func WithReconnectDelay(delay time.Duration) Option {
	return func(m *connectionMonitor) {
		m.reconnectDelay = delay
	}
}

type connectionMonitor struct {
	conn           ChainConnection
	logger         *logrus.Logger
	chainName      string
	interval       time.Duration
	reconnectDelay time.Duration
	stopChan       chan struct{}
	doneChan       chan struct{}
	isMonitoring   bool
	monitorMutex   sync.RWMutex
}

// NewConnectionMonitor creates a new connection monitor instance.
//
// Parameters:
// - conn: the connection to monitor.
// - logger: the logger for logging purposes.
// - chainName: the name of the chain, used in log fields.
// - opts: optional settings.
//
// Returns:
// - ConnectionMonitor: the new connection monitor instance.
func NewConnectionMonitor(
	conn ChainConnection,
	logger *logrus.Logger,
	chainName string,
	opts ...Option,
) ConnectionMonitor {
	m := &connectionMonitor{
		conn:           conn,
		logger:         logger,
		chainName:      chainName,
		interval:       DefaultHealthCheckInterval,
		reconnectDelay: defaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start starts connection monitoring.
//
// Parameters:
// - ctx: the context for managing the request.
//
// Returns:
// - error: an error if the connection monitor is already running.
func (m *connectionMonitor) Start(ctx context.Context) error {
	m.monitorMutex.Lock()
	defer m.monitorMutex.Unlock()

	if m.isMonitoring {
		return errors.Errorf("connection monitor is already running for chain %s", m.chainName)
	}
	m.isMonitoring = true
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})

	go m.monitorConnection(ctx, m.stopChan, m.doneChan)
	return nil
}

// Stop stops connection monitoring and waits for the monitoring loop to exit.
func (m *connectionMonitor) Stop() {
	m.monitorMutex.Lock()
	if !m.isMonitoring {
		m.monitorMutex.Unlock()
		return
	}
	close(m.stopChan)
	done := m.doneChan
	m.isMonitoring = false
	m.monitorMutex.Unlock()

	<-done
}

// monitorConnection runs health checks until stopped.
func (m *connectionMonitor) monitorConnection(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.WithField("chain", m.chainName).Info("Connection monitoring stopped due to context cancellation")
			return

		case <-stop:
			m.logger.WithField("chain", m.chainName).Info("Connection monitoring stopped")
			return

		case <-ticker.C:
			if err := m.checkAndReconnect(ctx); err != nil {
				m.logger.WithField("chain", m.chainName).WithError(err).Error("Failed to check or reconnect")
			}
		}
	}
}

// checkAndReconnect checks the connection state and attempts to reconnect if needed.
//
// Parameters:
// - ctx: the context for managing the request.
//
// Returns:
// - error: an error if every reconnection attempt fails.
func (m *connectionMonitor) checkAndReconnect(ctx context.Context) error {
	err := m.conn.CheckConnection(ctx)
	if err == nil {
		m.logger.WithField("chain", m.chainName).Debug("Ping successful")
		return nil
	}

	m.logger.WithField("chain", m.chainName).WithError(err).Warn("Connection check failed, attempting to reconnect")

	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		err := m.conn.Reconnect(ctx)
		if err == nil {
			m.logger.WithFields(logrus.Fields{
				"chain":   m.chainName,
				"attempt": attempt,
			}).Info("Client successfully reconnected")
			return nil
		}

		m.logger.WithFields(logrus.Fields{
			"chain":   m.chainName,
			"attempt": attempt,
		}).WithError(err).Error("Reconnection attempt failed")

		if attempt == maxReconnectAttempts {
			return errors.Wrapf(err, "failed to reconnect to chain %s", m.chainName)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.reconnectDelay):
		}
	}
	return nil
}
