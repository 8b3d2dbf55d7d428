package wayfire

import "math"

// ViewID is the compositor-assigned identifier of a view.
type ViewID uint32

// NoView is what Session.Active reports before any focus. It is also a
// valid compositor id, so nothing treats it as "no view" internally.
const NoView ViewID = math.MaxUint32

// Property names a per-view metadata value exposed by the window-rules
// plugin.
type Property string

// Known properties, in the order they are requested for a new view.
// PropGTKWindowObjectPath is always requested last; its reply marks the
// view as complete.
const (
	PropKDEServiceName           Property = "kde-appmenu-service-name"
	PropKDEObjectPath            Property = "kde-appmenu-object-path"
	PropGTKAppMenuPath           Property = "gtk-shell-app-menu-path"
	PropGTKApplicationObjectPath Property = "gtk-shell-application-object-path"
	PropGTKMenubarPath           Property = "gtk-shell-menubar-path"
	PropGTKUniqueBusName         Property = "gtk-shell-unique-bus-name"
	PropGTKWindowObjectPath      Property = "gtk-shell-window-object-path"
)

// KnownProperties returns the fetch order for a newly seen view.
func KnownProperties() []Property {
	return []Property{
		PropKDEServiceName,
		PropKDEObjectPath,
		PropGTKAppMenuPath,
		PropGTKApplicationObjectPath,
		PropGTKMenubarPath,
		PropGTKUniqueBusName,
		PropGTKWindowObjectPath,
	}
}

// Dialect identifies which menu export scheme a view uses.
type Dialect int

const (
	DialectNone Dialect = iota
	// DialectGTK is the gtk-shell scheme: org.gtk.Menus on a unique bus name.
	DialectGTK
	// DialectKDE is the appmenu scheme: com.canonical.dbusmenu on a service.
	DialectKDE
)

func (d Dialect) String() string {
	switch d {
	case DialectGTK:
		return "gtk"
	case DialectKDE:
		return "kde"
	default:
		return "none"
	}
}

// View holds everything learned about one view so far. Nil fields have not
// been reported yet.
type View struct {
	ID    ViewID  `json:"id"`
	Title *string `json:"title,omitempty"`

	KDEServiceName *string `json:"kde_service_name,omitempty"`
	KDEObjectPath  *string `json:"kde_object_path,omitempty"`

	GTKAppMenuPath           *string `json:"gtk_app_menu_path,omitempty"`
	GTKMenubarPath           *string `json:"gtk_menubar_path,omitempty"`
	GTKWindowObjectPath      *string `json:"gtk_window_object_path,omitempty"`
	GTKApplicationObjectPath *string `json:"gtk_application_object_path,omitempty"`
	GTKUniqueBusName         *string `json:"gtk_unique_bus_name,omitempty"`
}

// Dialect picks the menu scheme this view can be served with. GTK wins when
// both are present.
func (v *View) Dialect() Dialect {
	switch {
	case v.GTKUniqueBusName != nil && v.GTKMenubarPath != nil:
		return DialectGTK
	case v.KDEServiceName != nil && v.KDEObjectPath != nil:
		return DialectKDE
	default:
		return DialectNone
	}
}

// Complete reports whether the final property of a fetch round has arrived.
func (v *View) Complete() bool {
	return v.GTKWindowObjectPath != nil
}

// Get returns the value of a property, if known.
func (v *View) Get(p Property) (string, bool) {
	if f := v.field(p); f != nil && *f != nil {
		return **f, true
	}
	return "", false
}

// Clone returns a deep copy that stays valid after the store mutates.
func (v *View) Clone() *View {
	if v == nil {
		return nil
	}
	c := &View{ID: v.ID, Title: cloneString(v.Title)}
	for _, p := range KnownProperties() {
		if val, ok := v.Get(p); ok {
			*c.field(p) = &val
		}
	}
	return c
}

// set stores value for p. Unknown property names are ignored and reported.
func (v *View) set(p Property, value string) bool {
	f := v.field(p)
	if f == nil {
		return false
	}
	*f = &value
	return true
}

func (v *View) field(p Property) **string {
	switch p {
	case PropKDEServiceName:
		return &v.KDEServiceName
	case PropKDEObjectPath:
		return &v.KDEObjectPath
	case PropGTKAppMenuPath:
		return &v.GTKAppMenuPath
	case PropGTKApplicationObjectPath:
		return &v.GTKApplicationObjectPath
	case PropGTKMenubarPath:
		return &v.GTKMenubarPath
	case PropGTKUniqueBusName:
		return &v.GTKUniqueBusName
	case PropGTKWindowObjectPath:
		return &v.GTKWindowObjectPath
	default:
		return nil
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Store caches views by id. Entries are created lazily and filled in as
// replies arrive; they are only removed on unmap (or Reset).
//
// Store is not safe for concurrent use.
type Store struct {
	views map[ViewID]*View
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{views: make(map[ViewID]*View)}
}

// Lookup returns the entry for id, if present.
func (s *Store) Lookup(id ViewID) (*View, bool) {
	v, ok := s.views[id]
	return v, ok
}

// Ensure returns the entry for id, creating an empty one if needed.
func (s *Store) Ensure(id ViewID) *View {
	v, ok := s.views[id]
	if !ok {
		v = &View{ID: id}
		s.views[id] = v
	}
	return v
}

// Set upserts a property value. A later value always overwrites.
func (s *Store) Set(id ViewID, p Property, value string) (*View, bool) {
	v := s.Ensure(id)
	return v, v.set(p, value)
}

// SetTitle upserts the view title.
func (s *Store) SetTitle(id ViewID, title string) *View {
	v := s.Ensure(id)
	v.Title = &title
	return v
}

// Delete removes the entry for id and reports whether it existed.
func (s *Store) Delete(id ViewID) bool {
	_, ok := s.views[id]
	delete(s.views, id)
	return ok
}

// Len returns the number of cached views.
func (s *Store) Len() int {
	return len(s.views)
}

// Reset drops every entry.
func (s *Store) Reset() {
	clear(s.views)
}
