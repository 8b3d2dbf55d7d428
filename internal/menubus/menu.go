// Package menubus resolves the application menu of a focused view over the
// D-Bus session bus.
//
// Two export schemes are understood. GTK applications publish an
// org.gtk.Menus model on their unique bus name, with actions split over the
// app, win and unity groups. KDE (and other appmenu) applications publish a
// com.canonical.dbusmenu tree on a named service.
package menubus

import (
	"errors"

	"wfmenu/internal/wayfire"
)

// ErrNoMenu is returned for views that advertise no usable menu.
var ErrNoMenu = errors.New("view exports no menu")

// D-Bus names.
const (
	gtkMenusInterface    = "org.gtk.Menus"
	dbusmenuInterface    = "com.canonical.dbusmenu"
	gtkMenusStart        = gtkMenusInterface + ".Start"
	gtkMenusEnd          = gtkMenusInterface + ".End"
	dbusmenuGetLayout    = dbusmenuInterface + ".GetLayout"
	gtkSectionLink       = ":section"
	gtkSubmenuLink       = ":submenu"
	dbusmenuTypeSeparate = "separator"
)

// Menu is a resolved application menu.
type Menu struct {
	ViewID  wayfire.ViewID `json:"view_id"`
	Dialect string         `json:"dialect"`
	BusName string         `json:"bus_name"`
	Path    string         `json:"path"`

	// ActionGroups maps GTK action group prefixes to their object paths.
	ActionGroups map[string]string `json:"action_groups,omitempty"`

	Items []Item `json:"items"`
}

// Item is one menu entry.
type Item struct {
	Label    string `json:"label"`
	Action   string `json:"action,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
	Children []Item `json:"children,omitempty"`
}

// Labels returns the top level labels.
func (m *Menu) Labels() []string {
	labels := make([]string, 0, len(m.Items))
	for _, it := range m.Items {
		labels = append(labels, it.Label)
	}
	return labels
}
