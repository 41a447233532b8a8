package settings

import (
	"errors"
	"testing"

	"github.com/KhoaHoangTrinhAnh/shopin-client/internal/storage"
)

func TestThemeDefaultsToSystem(t *testing.T) {
	s := NewStore(nil, nil)
	if got := s.Theme(); got != ThemeSystem {
		t.Fatalf("theme = %q, want %q", got, ThemeSystem)
	}
}

func TestThemePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	s := NewStore(st, nil)
	if err := s.SetTheme(ThemeDark); err != nil {
		t.Fatalf("set theme: %v", err)
	}

	st2, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	s2 := NewStore(st2, nil)
	if got := s2.Theme(); got != ThemeDark {
		t.Fatalf("theme after restart = %q, want %q", got, ThemeDark)
	}
}

func TestSetThemeRejectsUnknownValue(t *testing.T) {
	s := NewStore(nil, nil)
	if err := s.SetTheme("neon"); !errors.Is(err, ErrUnknownTheme) {
		t.Fatalf("err = %v, want ErrUnknownTheme", err)
	}
	if got := s.Theme(); got != ThemeSystem {
		t.Fatalf("theme = %q, want unchanged %q", got, ThemeSystem)
	}
}
