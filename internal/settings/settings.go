package settings

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/storage"
)

const themeKey = "ui.theme"

var ErrUnknownTheme = errors.New("unknown theme")

// Valid theme values.
const (
	ThemeLight  = "light"
	ThemeDark   = "dark"
	ThemeSystem = "system"
)

// Store holds UI preferences that survive restarts. It keeps only
// presentation state, nothing tied to a session.
type Store struct {
	mu      sync.RWMutex
	storage *storage.Store
	log     *zap.Logger

	theme string
}

func NewStore(st *storage.Store, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{storage: st, log: log, theme: ThemeSystem}
	if st != nil {
		var saved string
		if ok, err := st.Get(themeKey, &saved); err == nil && ok && validTheme(saved) {
			s.theme = saved
		}
	}
	return s
}

func (s *Store) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// SetTheme updates the preference and persists it. Unknown values are
// rejected before anything is written.
func (s *Store) SetTheme(theme string) error {
	if !validTheme(theme) {
		return ErrUnknownTheme
	}
	s.mu.Lock()
	s.theme = theme
	s.mu.Unlock()
	if s.storage == nil {
		return nil
	}
	if err := s.storage.Set(themeKey, theme); err != nil {
		s.log.Warn("persist theme", zap.Error(err))
		return err
	}
	return nil
}

func validTheme(v string) bool {
	switch v {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}
