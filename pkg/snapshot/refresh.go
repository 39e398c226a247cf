package snapshot

import (
	"os"
	"path/filepath"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
)

// RefreshTarget is notified after a provider's snapshot changes so that
// external display surfaces can reload.
type RefreshTarget interface {
	NotifyUpdated(p model.UsageProvider)
}

// MarkerRefresher signals widget pollers by touching a per-provider marker
// file next to the snapshots. Pollers stat the marker instead of parsing
// the snapshot to decide whether a reload is due.
type MarkerRefresher struct {
	dir string
}

// NewMarkerRefresher returns a refresher writing markers under the store's
// container directory.
func NewMarkerRefresher(store *Store) *MarkerRefresher {
	return &MarkerRefresher{dir: store.Dir()}
}

// NotifyUpdated touches the provider's reload marker. Failures are
// intentionally dropped: a missed reload shows stale-but-valid data, which
// readers already tolerate.
func (r *MarkerRefresher) NotifyUpdated(p model.UsageProvider) {
	path := filepath.Join(r.dir, "reload-"+p.StorageKey())
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		_ = os.WriteFile(path, nil, 0o644)
	}
}
