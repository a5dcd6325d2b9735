package reader

import (
	"context"
	"sort"
)

// Panel is a side panel of the reader.
type Panel string

const (
	PanelTOC      Panel = "toc"
	PanelSearch   Panel = "search"
	PanelSettings Panel = "settings"
)

// Key names as delivered by the browser.
const (
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
	KeySpace      = " "
	KeyEscape     = "Escape"
)

// HandleKey applies the reader's keyboard contract and reports whether the
// key is bound. Reading is right to left: ArrowLeft and Space go forward.
func (s *Session) HandleKey(ctx context.Context, key string) bool {
	switch key {
	case KeyArrowLeft, KeySpace, "Space":
		s.Next(ctx)
	case KeyArrowRight:
		s.Prev(ctx)
	case "b":
		if _, err := s.AddBookmark(""); err != nil {
			s.logger.Debug("bookmark key ignored", "error", err)
		}
	case "t":
		s.TogglePanel(PanelTOC)
	case "s":
		s.TogglePanel(PanelSearch)
	case "c":
		s.TogglePanel(PanelSettings)
	case KeyEscape:
		s.CloseAllPanels()
	default:
		return false
	}
	return true
}

// TogglePanel opens or closes a panel and reports whether it is now open.
func (s *Session) TogglePanel(p Panel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels[p] = !s.panels[p]
	return s.panels[p]
}

// CloseAllPanels closes every panel.
func (s *Session) CloseAllPanels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.panels)
}

// OpenPanels lists the open panels in name order.
func (s *Session) OpenPanels() []Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openPanelsLocked()
}

func (s *Session) openPanelsLocked() []Panel {
	open := make([]Panel, 0, len(s.panels))
	for p, isOpen := range s.panels {
		if isOpen {
			open = append(open, p)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i] < open[j] })
	return open
}
