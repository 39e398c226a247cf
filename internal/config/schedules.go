package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quotabar/quotabar/pkg/model"
)

type scheduleFile struct {
	Schedules []model.WakeUpSchedule `yaml:"schedules"`
}

// LoadSchedules reads the wake-up schedule file. A missing file yields a
// default disabled schedule per provider, not an error.
func LoadSchedules(path string) ([]model.WakeUpSchedule, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultSchedules(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schedules: %w", err)
	}

	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}

	// Fill in providers the file omits so callers always see all of them.
	byProvider := make(map[model.UsageProvider]model.WakeUpSchedule)
	for _, s := range file.Schedules {
		if !s.Provider.Valid() {
			continue
		}
		s.Normalize()
		byProvider[s.Provider] = s
	}
	out := make([]model.WakeUpSchedule, 0, len(model.AllProviders()))
	for _, p := range model.AllProviders() {
		if s, ok := byProvider[p]; ok {
			out = append(out, s)
		} else {
			out = append(out, model.WakeUpSchedule{Provider: p})
		}
	}
	return out, nil
}

// SaveSchedules persists schedules atomically.
func SaveSchedules(path string, schedules []model.WakeUpSchedule) error {
	for i := range schedules {
		schedules[i].Normalize()
	}
	data, err := yaml.Marshal(scheduleFile{Schedules: schedules})
	if err != nil {
		return fmt.Errorf("marshal schedules: %w", err)
	}
	return writeFileAtomic(path, data)
}

func defaultSchedules() []model.WakeUpSchedule {
	out := make([]model.WakeUpSchedule, 0, len(model.AllProviders()))
	for _, p := range model.AllProviders() {
		out = append(out, model.WakeUpSchedule{Provider: p})
	}
	return out
}
