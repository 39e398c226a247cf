package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
)

// Notification is one threshold-crossing event to be delivered.
type Notification struct {
	Provider         model.UsageProvider  `json:"provider"`
	Window           model.WindowKind     `json:"window"`
	Level            model.ThresholdLevel `json:"level"`
	UsedPercent      float64              `json:"used_percent"`
	ThresholdPercent float64              `json:"threshold_percent"`
	ResetAt          time.Time            `json:"reset_at"`
	Message          string               `json:"message"`
}

// Title returns the notification headline.
func (n Notification) Title() string {
	label := "5h limit"
	if n.Window == model.WindowSecondary {
		label = "weekly limit"
	}
	return fmt.Sprintf("%s %s %s", n.Provider.DisplayName(), label, n.Level)
}

// Notifier delivers notifications to one destination.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers a notification. Implementations must be safe for
	// concurrent use.
	Send(ctx context.Context, n Notification) error
}
