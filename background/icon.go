package background

import "strconv"

// Icon is the toolbar icon state.
type Icon struct {
	Enabled bool           `json:"enabled"`
	Path    map[int]string `json:"path"`
	Title   string         `json:"title"`
}

var iconSizes = []int{16, 32, 48, 128}

// IconFor returns the icon set and title for the enabled state.
func IconFor(enabled bool) Icon {
	base, state := "icons/icon-", "Enabled"
	if !enabled {
		base, state = "icons/icon-disabled-", "Disabled"
	}
	path := make(map[int]string, len(iconSizes))
	for _, size := range iconSizes {
		path[size] = base + strconv.Itoa(size) + ".png"
	}
	return Icon{
		Enabled: enabled,
		Path:    path,
		Title:   "Morph - AI Question Assistant (" + state + ")",
	}
}

// Icon returns the current icon state.
func (s *Service) Icon() Icon { return *s.icon.Load() }

func (s *Service) setIcon(enabled bool) {
	if cur := s.icon.Load(); cur != nil && cur.Enabled == enabled {
		return
	}
	icon := IconFor(enabled)
	s.icon.Store(&icon)
	s.logger.Debug("background: icon updated", "enabled", enabled)
}
