package notify

import (
	"context"
	"fmt"

	"github.com/gen2brain/beeep"
)

// DesktopNotifier shows native desktop notifications.
type DesktopNotifier struct{}

// NewDesktopNotifier creates a desktop notifier.
func NewDesktopNotifier(appName string) *DesktopNotifier {
	if appName != "" {
		beeep.AppName = appName
	}
	return &DesktopNotifier{}
}

func (d *DesktopNotifier) Name() string { return "desktop" }

func (d *DesktopNotifier) Send(_ context.Context, n Notification) error {
	if err := beeep.Notify(n.Title(), n.Message, ""); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}
	return nil
}
