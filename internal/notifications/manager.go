// Package notifications handles system notifications for predicted BSL alerts
package notifications

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/sirupsen/logrus"

	"github.com/mrcode/glycemia/internal/models"
)

var severityRank = map[string]int{
	models.SeverityWarning: 1,
	models.SeverityAlert:   2,
	models.SeverityUrgent:  3,
}

// Notifier delivers a notification
type Notifier interface {
	Notify(title, message string) error
}

// DesktopNotifier sends system notifications through beeep
type DesktopNotifier struct{}

// Notify sends a system notification
func (DesktopNotifier) Notify(title, message string) error {
	// Use beeep for cross-platform notifications
	return beeep.Notify(title, message, "")
}

// Settings controls which alerts are delivered
type Settings struct {
	Enabled       bool
	RepeatMinutes int    // 0 = notify once until the alert state is cleared
	Unit          string // "mmol/L" or "mg/dL"
	MinSeverity   string
}

// Manager delivers predicted BSL alerts and suppresses repeats
type Manager struct {
	settings      Settings
	notifier      Notifier
	logger        *logrus.Logger
	lastAlertTime map[string]time.Time
	now           func() time.Time
	mu            sync.Mutex
}

// NewManager creates a new notification manager. A nil notifier uses
// desktop notifications.
func NewManager(settings Settings, notifier Notifier, logger *logrus.Logger) *Manager {
	if notifier == nil {
		notifier = DesktopNotifier{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		settings:      settings,
		notifier:      notifier,
		logger:        logger,
		lastAlertTime: make(map[string]time.Time),
		now:           time.Now,
	}
}

// UpdateSettings replaces the settings
func (m *Manager) UpdateSettings(settings Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

// CheckAndNotify sends a notification for each alert that passes the
// severity filter and was not sent within the repeat interval. It returns
// the number of notifications sent.
func (m *Manager) CheckAndNotify(alerts []models.BSLAlert) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.settings.Enabled {
		return 0, nil
	}

	now := m.now()
	sent := 0
	for _, alert := range alerts {
		if !m.shouldAlert(alert) {
			continue
		}

		key := alertKey(alert)
		// Check if we should repeat the alert
		if lastTime, ok := m.lastAlertTime[key]; ok {
			if m.settings.RepeatMinutes <= 0 {
				continue
			}
			if now.Sub(lastTime) < time.Duration(m.settings.RepeatMinutes)*time.Minute {
				continue
			}
		}

		title, message := m.formatNotification(alert, now)
		if err := m.notifier.Notify(title, message); err != nil {
			return sent, fmt.Errorf("sending %s notification: %w", key, err)
		}

		m.logger.WithFields(logrus.Fields{
			"type":          alert.Type,
			"severity":      alert.Severity,
			"predicted_bsl": alert.PredictedBSL,
			"at":            alert.Time,
		}).Info("Sent alert notification")

		m.lastAlertTime[key] = now
		sent++
	}
	return sent, nil
}

// shouldAlert reports whether the alert meets the minimum severity
func (m *Manager) shouldAlert(alert models.BSLAlert) bool {
	minRank := severityRank[m.settings.MinSeverity]
	return severityRank[alert.Severity] >= minRank
}

func alertKey(alert models.BSLAlert) string {
	return alert.Type + ":" + alert.Severity
}

// formatNotification creates the notification title and message
func (m *Manager) formatNotification(alert models.BSLAlert, now time.Time) (string, string) {
	var valueStr string
	if m.settings.Unit == models.UnitMgDL {
		valueStr = fmt.Sprintf("%.0f mg/dL", models.ToMgdl(alert.PredictedBSL))
	} else {
		valueStr = fmt.Sprintf("%.1f mmol/L", alert.PredictedBSL)
	}

	when := "now"
	if mins := int(math.Round(alert.Time.Sub(now).Minutes())); mins > 0 {
		when = fmt.Sprintf("in %d min", mins)
	}

	var title, message string
	switch {
	case alert.Type == models.AlertHypo && alert.Severity == models.SeverityUrgent:
		title = "⚠️ URGENT LOW PREDICTED"
		message = fmt.Sprintf("Glucose predicted critically low: %s %s", valueStr, when)
	case alert.Type == models.AlertHypo:
		title = "⬇️ Low Glucose Predicted"
		message = fmt.Sprintf("Glucose predicted low: %s %s", valueStr, when)
	case alert.Severity == models.SeverityUrgent:
		title = "⚠️ URGENT HIGH PREDICTED"
		message = fmt.Sprintf("Glucose predicted critically high: %s %s", valueStr, when)
	default:
		title = "⬆️ High Glucose Predicted"
		message = fmt.Sprintf("Glucose predicted high: %s %s", valueStr, when)
	}

	return title, message
}

// ClearAlertState clears the alert state for a specific type or all types
func (m *Manager) ClearAlertState(alertType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alertType == "" {
		m.lastAlertTime = make(map[string]time.Time)
		return
	}
	for key := range m.lastAlertTime {
		if strings.HasPrefix(key, alertType+":") {
			delete(m.lastAlertTime, key)
		}
	}
}

// SendTestNotification sends a test notification
func (m *Manager) SendTestNotification() error {
	return m.notifier.Notify("Glycemia", "Test notification - alerts are working!")
}
