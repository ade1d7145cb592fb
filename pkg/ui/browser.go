// Package ui is a terminal browser for the data tree. Point nodes can be
// watched, which subscribes to them and so drives outstation polling;
// writable points can be written and actions invoked with a form.
package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"avaneesh/dnp3-bridge/pkg/tree"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Browser shows the tree, the selected node and the log
type Browser struct {
	app      *tview.Application
	root     *tree.Node
	pages    *tview.Pages
	treeView *tview.TreeView
	details  *tview.TextView
	status   *tview.TextView
	logs     *LogView
	refresh  time.Duration

	watchMu sync.Mutex
	watches map[*tree.Node]tree.Handle
	changes atomic.Uint64
}

// NewBrowser creates a browser over root. logs may be nil.
func NewBrowser(root *tree.Node, logs *LogView, refresh time.Duration) *Browser {
	if refresh <= 0 {
		refresh = time.Second
	}
	b := &Browser{
		app:     tview.NewApplication(),
		root:    root,
		logs:    logs,
		refresh: refresh,
		watches: make(map[*tree.Node]tree.Handle),
	}
	b.setupUI()
	return b
}

func (b *Browser) setupUI() {
	b.pages = tview.NewPages()

	rootNode := tview.NewTreeNode(b.root.Name()).SetReference(b.root).SetColor(tcell.ColorYellow)
	b.treeView = tview.NewTreeView().SetRoot(rootNode).SetCurrentNode(rootNode)
	b.treeView.SetBorder(true).SetTitle("Tree")
	b.treeView.SetChangedFunc(func(tn *tview.TreeNode) {
		b.showDetails(tn)
	})
	b.treeView.SetSelectedFunc(func(tn *tview.TreeNode) {
		n, _ := tn.GetReference().(*tree.Node)
		if n != nil && n.Action() != nil {
			b.showActionDialog(n)
			return
		}
		tn.SetExpanded(!tn.IsExpanded())
	})

	b.details = tview.NewTextView().SetDynamicColors(true)
	b.details.SetBorder(true).SetTitle("Node")

	b.status = tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter)

	top := tview.NewFlex().
		AddItem(b.treeView, 0, 2, true).
		AddItem(b.details, 0, 1, false)
	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(top, 0, 3, true)
	if b.logs != nil {
		layout.AddItem(b.logs.Primitive(), 0, 1, false)
	}
	layout.AddItem(b.status, 1, 0, false)
	b.pages.AddPage("main", layout, true, true)

	b.setupKeyBindings()
	b.sync()
}

func (b *Browser) setupKeyBindings() {
	b.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if b.pages.HasPage("dialog") {
			if event.Key() == tcell.KeyEscape {
				b.pages.RemovePage("dialog")
				return nil
			}
			return event
		}
		switch {
		case event.Key() == tcell.KeyEscape || event.Rune() == 'q':
			b.app.Stop()
			return nil
		case event.Rune() == 'w':
			if n := b.selected(); n != nil {
				b.toggleWatch(n)
				b.sync()
			}
			return nil
		case event.Rune() == 'e':
			if n := b.selected(); n != nil && n.Writable() >= tree.PermissionWrite {
				b.showWriteDialog(n)
			}
			return nil
		}
		return event
	})
}

func (b *Browser) selected() *tree.Node {
	tn := b.treeView.GetCurrentNode()
	if tn == nil {
		return nil
	}
	n, _ := tn.GetReference().(*tree.Node)
	return n
}

// Run shows the browser until the user quits or ctx is done. Watches are
// released on return.
func (b *Browser) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(b.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				b.app.Stop()
				return
			case <-ticker.C:
				b.app.QueueUpdateDraw(b.sync)
			}
		}
	}()
	err := b.app.SetRoot(b.pages, true).EnableMouse(true).Run()
	b.unwatchAll()
	return err
}

// sync mirrors the data tree into the tree view, keeping expansion state
func (b *Browser) sync() {
	syncNode(b.treeView.GetRoot(), b.root, b.watched)
	b.showDetails(b.treeView.GetCurrentNode())
	b.status.SetText(fmt.Sprintf("[yellow]Enter[-] expand/invoke  [yellow]w[-] watch  [yellow]e[-] write  [yellow]q[-] quit   watching %d, %d changes",
		b.watchCount(), b.changes.Load()))
}

func syncNode(tn *tview.TreeNode, n *tree.Node, watched func(*tree.Node) bool) {
	existing := make(map[*tree.Node]*tview.TreeNode)
	for _, c := range tn.GetChildren() {
		if ref, ok := c.GetReference().(*tree.Node); ok {
			existing[ref] = c
		}
	}
	children := n.Children()
	out := make([]*tview.TreeNode, 0, len(children))
	for _, c := range children {
		ctn, ok := existing[c]
		if !ok {
			ctn = tview.NewTreeNode("").SetReference(c).SetExpanded(false)
		}
		ctn.SetText(label(c, watched(c)))
		switch {
		case c.Action() != nil:
			ctn.SetColor(tcell.ColorAqua)
		case c.Writable() >= tree.PermissionWrite:
			ctn.SetColor(tcell.ColorGreen)
		default:
			ctn.SetColor(tcell.ColorWhite)
		}
		syncNode(ctn, c, watched)
		out = append(out, ctn)
	}
	tn.SetChildren(out)
}

// label is the tree view text of a node
func label(n *tree.Node, watched bool) string {
	var sb strings.Builder
	if watched {
		sb.WriteString("* ")
	}
	sb.WriteString(n.Name())
	if n.Action() != nil {
		sb.WriteString(" ...")
	} else if v := n.Value(); !v.IsNull() {
		sb.WriteString(" = ")
		sb.WriteString(v.String())
	}
	return sb.String()
}

func (b *Browser) showDetails(tn *tview.TreeNode) {
	if tn == nil {
		return
	}
	if n, ok := tn.GetReference().(*tree.Node); ok {
		b.details.SetText(tview.Escape(describe(n)))
	}
}

// describe renders a node's path, value and attributes
func describe(n *tree.Node) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n", n.Path())
	if a := n.Action(); a != nil {
		fmt.Fprintf(&sb, "action (%s)\n", a.Permission)
		for _, p := range a.Params {
			fmt.Fprintf(&sb, "  %s: %s", p.Name, p.Type)
			if !p.Default.IsNull() {
				fmt.Fprintf(&sb, " = %s", p.Default)
			}
			sb.WriteString("\n")
		}
		return sb.String()
	}
	if t := n.ValueType(); t != "" {
		fmt.Fprintf(&sb, "value: %s (%s)\n", n.Value(), t)
		if n.Writable() >= tree.PermissionWrite {
			sb.WriteString("writable\n")
		}
		fmt.Fprintf(&sb, "subscriptions: %d\n", n.Subscriptions())
	}
	attrs := n.Attributes()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		sb.WriteString("\n")
	}
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, attrs[k])
	}
	return sb.String()
}

// toggleWatch subscribes to a value node, or releases its subscription
func (b *Browser) toggleWatch(n *tree.Node) {
	if n.ValueType() == "" {
		return
	}
	b.watchMu.Lock()
	h, ok := b.watches[n]
	if ok {
		delete(b.watches, n)
	}
	b.watchMu.Unlock()

	if ok {
		n.Unsubscribe(h)
		return
	}
	h = n.Subscribe(func(tree.Value) { b.changes.Add(1) })
	b.watchMu.Lock()
	b.watches[n] = h
	b.watchMu.Unlock()
}

func (b *Browser) watched(n *tree.Node) bool {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	_, ok := b.watches[n]
	return ok
}

func (b *Browser) watchCount() int {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	return len(b.watches)
}

func (b *Browser) unwatchAll() {
	b.watchMu.Lock()
	watches := b.watches
	b.watches = make(map[*tree.Node]tree.Handle)
	b.watchMu.Unlock()
	for n, h := range watches {
		n.Unsubscribe(h)
	}
}

func (b *Browser) setStatus(format string, args ...interface{}) {
	b.status.SetText(tview.Escape(fmt.Sprintf(format, args...)))
}

func (b *Browser) showDialog(form *tview.Form, height int) {
	modal := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexColumn).
			AddItem(nil, 0, 1, false).
			AddItem(form, 64, 1, true).
			AddItem(nil, 0, 1, false),
			height, 1, true).
		AddItem(nil, 0, 1, false)
	b.pages.AddPage("dialog", modal, true, true)
}

func (b *Browser) showWriteDialog(n *tree.Node) {
	form := tview.NewForm()
	form.SetBorder(true).SetTitle("Write " + n.Name())
	text := n.Value().String()
	if choices := n.ValueType().Choices(); choices != nil {
		form.AddDropDown("Value", choices, indexOf(choices, text), func(option string, _ int) { text = option })
	} else {
		form.AddInputField("Value", text, 30, nil, func(s string) { text = s })
	}
	form.AddButton("Write", func() {
		b.pages.RemovePage("dialog")
		v, err := tree.ParseValue(n.ValueType(), text)
		if err == nil {
			err = n.Write(v)
		}
		if err != nil {
			b.setStatus("Write %s failed: %v", n.Name(), err)
			return
		}
		b.setStatus("Wrote %s to %s", v, n.Name())
	})
	form.AddButton("Cancel", func() { b.pages.RemovePage("dialog") })
	b.showDialog(form, 9)
}

func (b *Browser) showActionDialog(n *tree.Node) {
	a := n.Action()
	form := tview.NewForm()
	form.SetBorder(true).SetTitle(n.Name())

	texts := make(map[string]string, len(a.Params))
	for _, p := range a.Params {
		name := p.Name
		def := ""
		if !p.Default.IsNull() {
			def = p.Default.String()
		}
		texts[name] = def
		switch {
		case p.Type == tree.TypeBool:
			form.AddCheckbox(name, p.Default.AsBool(), func(checked bool) { texts[name] = fmt.Sprint(checked) })
		case p.Type.IsEnum():
			choices := p.Type.Choices()
			form.AddDropDown(name, choices, indexOf(choices, def), func(option string, _ int) { texts[name] = option })
		default:
			form.AddInputField(name, def, 30, nil, func(s string) { texts[name] = s })
		}
	}
	form.AddButton("Invoke", func() {
		b.pages.RemovePage("dialog")
		params, err := buildParams(a, texts)
		if err == nil {
			err = n.Invoke(params)
		}
		if err != nil {
			b.setStatus("%s failed: %v", n.Name(), err)
			return
		}
		b.setStatus("%s done", n.Name())
		b.sync()
	})
	form.AddButton("Cancel", func() { b.pages.RemovePage("dialog") })
	b.showDialog(form, 2*len(a.Params)+5)
}

// buildParams parses the texts entered for an action. Blank entries are
// left out so the parameter default applies.
func buildParams(a *tree.Action, texts map[string]string) (tree.Params, error) {
	params := make(tree.Params, len(a.Params))
	for _, p := range a.Params {
		text, ok := texts[p.Name]
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		v, err := tree.ParseValue(p.Type, text)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		params[p.Name] = v
	}
	return params, nil
}

func indexOf(choices []string, s string) int {
	for i, c := range choices {
		if c == s {
			return i
		}
	}
	return -1
}
