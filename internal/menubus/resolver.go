package menubus

import (
	"context"
	"fmt"
	"io"

	"github.com/godbus/dbus/v5"

	"wfmenu/internal/logging"
	"wfmenu/internal/wayfire"
)

// maxGTKRounds bounds how many Start calls are made to pull in submenu
// groups that the first reply referenced.
const maxGTKRounds = 4

// maxDepth bounds submenu nesting.
const maxDepth = 8

// Bus is the part of *dbus.Conn the resolver needs.
type Bus interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
}

// Resolver looks up menus over a bus connection.
type Resolver struct {
	bus    Bus
	closer io.Closer
	logger *logging.Logger
}

// NewResolver creates a resolver over an existing connection.
func NewResolver(bus Bus, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{bus: bus, logger: logger.WithComponent("menubus")}
}

// ConnectSession opens a private session bus connection.
func ConnectSession(logger *logging.Logger) (*Resolver, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	r := NewResolver(conn, logger)
	r.closer = conn
	return r, nil
}

// Close releases the bus connection if the resolver opened it.
func (r *Resolver) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Resolve fetches the menu for v according to its dialect.
func (r *Resolver) Resolve(ctx context.Context, v *wayfire.View) (*Menu, error) {
	if v == nil {
		return nil, ErrNoMenu
	}
	switch v.Dialect() {
	case wayfire.DialectGTK:
		return r.resolveGTK(ctx, v)
	case wayfire.DialectKDE:
		return r.resolveKDE(ctx, v)
	default:
		return nil, ErrNoMenu
	}
}

type gtkMenuGroup struct {
	Group uint32
	Menu  uint32
	Items []map[string]dbus.Variant
}

type gtkMenuRef struct {
	Group uint32
	Menu  uint32
}

func (r *Resolver) resolveGTK(ctx context.Context, v *wayfire.View) (*Menu, error) {
	busName := *v.GTKUniqueBusName
	path := *v.GTKMenubarPath
	obj := r.bus.Object(busName, dbus.ObjectPath(path))

	menus := make(map[gtkMenuRef][]map[string]dbus.Variant)
	subscribed := []uint32{}
	want := []uint32{0}

	defer func() {
		if len(subscribed) > 0 {
			obj.CallWithContext(context.Background(), gtkMenusEnd, dbus.FlagNoReplyExpected, subscribed)
		}
	}()

	for round := 0; round < maxGTKRounds && len(want) > 0; round++ {
		var groups []gtkMenuGroup
		if err := obj.CallWithContext(ctx, gtkMenusStart, 0, want).Store(&groups); err != nil {
			return nil, fmt.Errorf("%s on %s%s: %w", gtkMenusStart, busName, path, err)
		}
		subscribed = append(subscribed, want...)

		for _, g := range groups {
			menus[gtkMenuRef{g.Group, g.Menu}] = g.Items
		}
		want = missingGroups(menus, subscribed)
	}

	m := &Menu{
		ViewID:       v.ID,
		Dialect:      wayfire.DialectGTK.String(),
		BusName:      busName,
		Path:         path,
		ActionGroups: map[string]string{"unity": path},
		Items:        gtkItems(menus, gtkMenuRef{0, 0}, 0),
	}
	if v.GTKApplicationObjectPath != nil {
		m.ActionGroups["app"] = *v.GTKApplicationObjectPath
	}
	if v.GTKWindowObjectPath != nil {
		m.ActionGroups["win"] = *v.GTKWindowObjectPath
	}

	r.logger.Debug("resolved gtk menu", "view_id", v.ID, "bus_name", busName, "items", len(m.Items))
	return m, nil
}

// missingGroups lists groups referenced by links but not yet subscribed.
func missingGroups(menus map[gtkMenuRef][]map[string]dbus.Variant, subscribed []uint32) []uint32 {
	have := make(map[uint32]bool, len(subscribed))
	for _, g := range subscribed {
		have[g] = true
	}

	var out []uint32
	for _, items := range menus {
		for _, item := range items {
			for _, key := range []string{gtkSectionLink, gtkSubmenuLink} {
				if ref, ok := gtkLink(item, key); ok && !have[ref.Group] {
					have[ref.Group] = true
					out = append(out, ref.Group)
				}
			}
		}
	}
	return out
}

// gtkItems flattens a menu, inlining sections and nesting submenus.
func gtkItems(menus map[gtkMenuRef][]map[string]dbus.Variant, ref gtkMenuRef, depth int) []Item {
	if depth > maxDepth {
		return nil
	}

	var out []Item
	for _, item := range menus[ref] {
		if section, ok := gtkLink(item, gtkSectionLink); ok {
			out = append(out, gtkItems(menus, section, depth+1)...)
			continue
		}

		it := Item{
			Label:  variantString(item, "label"),
			Action: variantString(item, "action"),
		}
		if sub, ok := gtkLink(item, gtkSubmenuLink); ok {
			it.Children = gtkItems(menus, sub, depth+1)
		}
		if it.Label == "" && len(it.Children) == 0 {
			continue
		}
		out = append(out, it)
	}
	return out
}

// gtkLink reads a (uu) link attribute.
func gtkLink(item map[string]dbus.Variant, key string) (gtkMenuRef, bool) {
	v, ok := item[key]
	if !ok {
		return gtkMenuRef{}, false
	}
	switch val := v.Value().(type) {
	case gtkMenuRef:
		return val, true
	case []interface{}:
		if len(val) != 2 {
			return gtkMenuRef{}, false
		}
		g, ok1 := val[0].(uint32)
		m, ok2 := val[1].(uint32)
		return gtkMenuRef{g, m}, ok1 && ok2
	default:
		return gtkMenuRef{}, false
	}
}

type dbusmenuLayout struct {
	ID         int32
	Properties map[string]dbus.Variant
	Children   []dbus.Variant
}

func (r *Resolver) resolveKDE(ctx context.Context, v *wayfire.View) (*Menu, error) {
	service := *v.KDEServiceName
	path := *v.KDEObjectPath
	obj := r.bus.Object(service, dbus.ObjectPath(path))

	var (
		revision uint32
		root     dbusmenuLayout
	)
	call := obj.CallWithContext(ctx, dbusmenuGetLayout, 0, int32(0), int32(-1), []string{})
	if err := call.Store(&revision, &root); err != nil {
		return nil, fmt.Errorf("%s on %s%s: %w", dbusmenuGetLayout, service, path, err)
	}

	m := &Menu{
		ViewID:  v.ID,
		Dialect: wayfire.DialectKDE.String(),
		BusName: service,
		Path:    path,
		Items:   r.kdeItems(root.Children, 0),
	}
	r.logger.Debug("resolved dbusmenu", "view_id", v.ID, "service", service, "revision", revision, "items", len(m.Items))
	return m, nil
}

func (r *Resolver) kdeItems(children []dbus.Variant, depth int) []Item {
	if depth > maxDepth {
		return nil
	}

	var out []Item
	for _, child := range children {
		node, err := decodeLayout(child.Value())
		if err != nil {
			r.logger.Debug("skipping malformed dbusmenu node", "error", err)
			continue
		}
		if visible, ok := variantBool(node.Properties, "visible"); ok && !visible {
			continue
		}
		if variantString(node.Properties, "type") == dbusmenuTypeSeparate {
			continue
		}

		it := Item{
			Label:    variantString(node.Properties, "label"),
			Children: r.kdeItems(node.Children, depth+1),
		}
		if enabled, ok := variantBool(node.Properties, "enabled"); ok && !enabled {
			it.Disabled = true
		}
		out = append(out, it)
	}
	return out
}

func decodeLayout(v interface{}) (dbusmenuLayout, error) {
	if l, ok := v.(dbusmenuLayout); ok {
		return l, nil
	}
	var l dbusmenuLayout
	err := dbus.Store([]interface{}{v}, &l)
	return l, err
}

func variantString(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func variantBool(props map[string]dbus.Variant, key string) (bool, bool) {
	if v, ok := props[key]; ok {
		b, ok := v.Value().(bool)
		return b, ok
	}
	return false, false
}
