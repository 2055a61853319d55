package main

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/daviddao/chatview/internal/model"
	"github.com/daviddao/chatview/internal/snapshot"
	"github.com/daviddao/chatview/internal/stream"
)

// session is the sign-in state the UI drives. identity.Provider implements it.
type session interface {
	CurrentPrincipal() (*model.Principal, error)
	SignIn(name, avatarURL string) (*model.Principal, error)
	SignOut() error
}

// --- Messages ---

// changedMsg reports a Changes signal from synchronizer generation gen.
type changedMsg struct{ gen int }

// closedMsg reports that generation gen stopped and closed its channel.
type closedMsg struct{ gen int }

type startedMsg struct {
	gen int
	err error
}

type olderLoadedMsg struct {
	gen int
	err error
}

type appendedMsg struct {
	draft string
	msg   model.Message
	err   error
}

type tickMsg struct{}

// --- Key bindings ---

type keyMap struct {
	Quit     key.Binding
	Send     key.Binding
	Older    key.Binding
	Bottom   key.Binding
	Restart  key.Binding
	SignOut  key.Binding
	Help     key.Binding
	Esc      key.Binding
	ScrollUp key.Binding
	ScrollDn key.Binding
	PageUp   key.Binding
	PageDn   key.Binding
}

var keys = keyMap{
	Quit:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	Send:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	Older:    key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "load older")),
	Bottom:   key.NewBinding(key.WithKeys("end", "ctrl+g"), key.WithHelp("end", "latest")),
	Restart:  key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "reconnect")),
	SignOut:  key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "sign out")),
	Help:     key.NewBinding(key.WithKeys("f1"), key.WithHelp("f1", "help")),
	Esc:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear")),
	ScrollUp: key.NewBinding(key.WithKeys("up", "ctrl+p"), key.WithHelp("up", "scroll up")),
	ScrollDn: key.NewBinding(key.WithKeys("down", "ctrl+n"), key.WithHelp("down", "scroll down")),
	PageUp:   key.NewBinding(key.WithKeys("pgup", "ctrl+u"), key.WithHelp("pgup", "page up")),
	PageDn:   key.NewBinding(key.WithKeys("pgdown", "ctrl+d"), key.WithHelp("pgdn", "page down")),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.Older, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.Esc, k.SignOut, k.Restart},
		{k.ScrollUp, k.ScrollDn, k.PageUp, k.PageDn},
		{k.Older, k.Bottom, k.Help, k.Quit},
	}
}

// viewportKeys scrolls the conversation without stealing letters from the
// message input.
func viewportKeys() viewport.KeyMap {
	return viewport.KeyMap{
		Up:       keys.ScrollUp,
		Down:     keys.ScrollDn,
		PageUp:   keys.PageUp,
		PageDown: keys.PageDn,
	}
}

// --- Model ---

type uiModel struct {
	sync    *stream.Synchronizer
	newSync func() *stream.Synchronizer
	gen     int
	session session
	avatar  string // avatar URL used when signing in from the prompt
	source  string

	snap *snapshot.DataSnapshot
	me   *model.Principal

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	showHelp bool

	width      int
	height     int
	autoScroll bool   // follow the newest message
	firstID    string // oldest rendered message, to keep position on backfill
	fetching   bool
	sending    bool
	err        error

	lastRefresh time.Time
}

func newModel(newSync func() *stream.Synchronizer, sess session, source, avatar string) uiModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	vp := viewport.New(80, 20)
	vp.KeyMap = viewportKeys()

	m := uiModel{
		sync:        newSync(),
		newSync:     newSync,
		session:     sess,
		avatar:      avatar,
		source:      source,
		input:       ti,
		viewport:    vp,
		spinner:     sp,
		help:        help.New(),
		autoScroll:  true,
		lastRefresh: time.Now(),
	}
	m.me, m.err = sess.CurrentPrincipal()
	m.snap = snapshot.Build(nil, m.sync.Status(), m.me)
	m.updatePlaceholder()
	return m
}

func (m uiModel) Init() tea.Cmd {
	return tea.Batch(
		startSync(m.sync, m.gen),
		listenForChanges(m.sync, m.gen),
		m.spinner.Tick,
		textinput.Blink,
		tickEvery(),
	)
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// listenForChanges waits for the next change signal from s.
func listenForChanges(s *stream.Synchronizer, gen int) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-s.Changes(); !ok {
			return closedMsg{gen: gen}
		}
		return changedMsg{gen: gen}
	}
}

func startSync(s *stream.Synchronizer, gen int) tea.Cmd {
	return func() tea.Msg {
		return startedMsg{gen: gen, err: s.Start(context.Background())}
	}
}

func loadOlder(s *stream.Synchronizer, gen int) tea.Cmd {
	return func() tea.Msg {
		return olderLoadedMsg{gen: gen, err: s.LoadOlder(context.Background())}
	}
}

func sendMessage(s *stream.Synchronizer, text, avatar string) tea.Cmd {
	return func() tea.Msg {
		msg, err := s.Append(context.Background(), model.Draft{Text: text, AuthorAvatarURL: avatar})
		return appendedMsg{draft: text, msg: msg, err: err}
	}
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.autoScroll = m.viewport.AtBottom()
		if msg.Button == tea.MouseButtonWheelUp && m.viewport.AtTop() {
			older := m.requestOlder()
			return m, tea.Batch(cmd, older)
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(10, msg.Width-4)
		m.viewport.Width = msg.Width
		m.viewport.Height = m.conversationHeight()
		m.refreshView()

	case changedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.rebuild()
		fill := m.fillScreen()
		return m, tea.Batch(listenForChanges(m.sync, m.gen), fill)

	case closedMsg:
		if msg.gen == m.gen {
			m.rebuild()
		}

	case startedMsg:
		if msg.gen == m.gen && msg.err != nil {
			m.err = msg.err
			m.rebuild()
		}

	case olderLoadedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.fetching = false
		if msg.err == nil {
			fill := m.fillScreen()
			return m, fill
		}
		if !errors.Is(msg.err, stream.ErrBusy) {
			m.err = msg.err
		}

	case appendedMsg:
		m.sending = false
		if msg.err != nil {
			m.err = msg.err
			if m.input.Value() == "" {
				m.input.SetValue(msg.draft)
				m.input.CursorEnd()
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.snap.Loading || m.snap.State == stream.StateTailSubscribing.String() {
			m.refreshView()
		}
		return m, cmd

	case tickMsg:
		return m, tickEvery()

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m uiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.sync.Stop()
		return m, tea.Quit

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		m.viewport.Height = m.conversationHeight()
		return m, nil

	case key.Matches(msg, keys.Esc):
		m.err = nil
		m.input.Reset()
		return m, nil

	case key.Matches(msg, keys.Send):
		return m.submit()

	case key.Matches(msg, keys.Older):
		older := m.requestOlder()
		return m, older

	case key.Matches(msg, keys.Bottom):
		m.viewport.GotoBottom()
		m.autoScroll = true
		return m, nil

	case key.Matches(msg, keys.Restart):
		return m.restart()

	case key.Matches(msg, keys.SignOut):
		if err := m.session.SignOut(); err != nil {
			m.err = err
			return m, nil
		}
		m.me = nil
		m.updatePlaceholder()
		m.rebuild()
		return m, nil

	case key.Matches(msg, keys.ScrollUp, keys.ScrollDn, keys.PageUp, keys.PageDn):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.autoScroll = m.viewport.AtBottom()
		if m.viewport.AtTop() && key.Matches(msg, keys.ScrollUp, keys.PageUp) {
			older := m.requestOlder()
			return m, tea.Batch(cmd, older)
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit signs in with the typed name when signed out, otherwise sends the
// typed text.
func (m uiModel) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()

	if m.me == nil {
		p, err := m.session.SignIn(text, m.avatar)
		if err != nil {
			m.err = err
			return m, nil
		}
		m.me, m.err = p, nil
		m.input.Reset()
		m.updatePlaceholder()
		m.rebuild()
		return m, nil
	}

	if strings.TrimSpace(text) == "" {
		m.err = stream.ErrEmptyMessage
		return m, nil
	}
	m.input.Reset()
	m.sending = true
	m.autoScroll = true
	m.err = nil
	m.viewport.GotoBottom()
	return m, sendMessage(m.sync, text, m.avatar)
}

// restart replaces a failed or stopped synchronizer with a fresh one.
func (m uiModel) restart() (tea.Model, tea.Cmd) {
	st := m.sync.Status()
	if st.Err == nil && st.State != stream.StateStopped {
		return m, nil
	}
	m.sync.Stop()
	m.gen++
	m.sync = m.newSync()
	m.err = nil
	m.fetching = false
	m.firstID = ""
	m.autoScroll = true
	m.rebuild()
	return m, tea.Batch(startSync(m.sync, m.gen), listenForChanges(m.sync, m.gen))
}

// requestOlder starts one backward fetch unless one is already running or
// the history is exhausted.
func (m *uiModel) requestOlder() tea.Cmd {
	st := m.sync.Status()
	if m.fetching || st.Exhausted || st.State != stream.StateLive {
		return nil
	}
	if len(m.snap.Messages) == 0 || m.snap.Messages[0].Pending() {
		return nil
	}
	m.fetching = true
	return loadOlder(m.sync, m.gen)
}

// fillScreen keeps loading history while the conversation is shorter than
// the viewport, since there is nothing to scroll up through yet.
func (m *uiModel) fillScreen() tea.Cmd {
	if m.height == 0 || m.viewport.TotalLineCount() >= m.viewport.Height {
		return nil
	}
	return m.requestOlder()
}

// rebuild takes a fresh snapshot of the synchronizer and re-renders.
func (m *uiModel) rebuild() {
	m.snap = snapshot.Build(m.sync.CurrentView(), m.sync.Status(), m.me)
	m.lastRefresh = time.Now()
	m.refreshView()
}

// refreshView renders the snapshot into the viewport. Scrolling follows the
// newest message while autoScroll is on; otherwise the offset shifts by the
// lines prepended above, keeping the visible messages in place.
func (m *uiModel) refreshView() {
	prevLines := m.viewport.TotalLineCount()
	prevFirst := m.firstID

	m.viewport.SetContent(m.renderConversation())
	m.firstID = ""
	if len(m.snap.Messages) > 0 {
		m.firstID = m.snap.Messages[0].ID
	}

	switch {
	case m.autoScroll:
		m.viewport.GotoBottom()
	case prevFirst != "" && m.firstID != prevFirst:
		m.viewport.SetYOffset(m.viewport.YOffset + m.viewport.TotalLineCount() - prevLines)
	}
}

func (m *uiModel) updatePlaceholder() {
	if m.me == nil {
		m.input.Placeholder = "Type your name and press enter to sign in"
	} else {
		m.input.Placeholder = "Message as " + m.me.DisplayName
	}
}

// conversationHeight is the viewport height left after title, input and
// status rows.
func (m uiModel) conversationHeight() int {
	h := m.height - 4
	if m.showHelp {
		h -= 3
	}
	return max(3, h)
}

// --- Styles ---

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1E1E2E")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	sentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1E1E2E")).
			Background(lipgloss.Color("#89B4FA")).
			Padding(0, 1)

	receivedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#313244")).
			Padding(0, 1)

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086")).
			Background(lipgloss.Color("#313244")).
			Italic(true).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)

	liveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#1E1E2E"))
)

// avatarColors tints the avatar placeholder per author.
var avatarColors = []lipgloss.Color{"#F38BA8", "#FAB387", "#F9E2AF", "#A6E3A1", "#94E2D5", "#89B4FA", "#CBA6F7"}

// --- View rendering ---

func (m uiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderTitleBar())
	b.WriteRune('\n')
	b.WriteString(m.viewport.View())
	b.WriteRune('\n')
	b.WriteString(truncateLines(m.input.View(), m.width))
	b.WriteRune('\n')
	if m.showHelp {
		b.WriteString(m.help.View(keys))
		b.WriteRune('\n')
	}
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m uiModel) renderTitleBar() string {
	title := titleStyle.Render("chatview")
	stats := dimStyle.Render(fmt.Sprintf("%d messages | %d authors | %s",
		m.snap.Total, len(m.snap.Authors), m.source))
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(title)-lipgloss.Width(stats)-1))
	return truncateLines(title+gap+stats, m.width)
}

func (m uiModel) renderStatusBar() string {
	var left string
	switch {
	case m.err != nil:
		left = errorStyle.Render(" " + describeError(m.err))
	case m.sending:
		left = " " + m.spinner.View() + " sending"
	case m.snap.State == stream.StateLive.String() && m.snap.Err == "":
		left = liveStyle.Render(" ● live")
	case m.snap.Err != "":
		left = errorStyle.Render(" ● disconnected (ctrl+r to reconnect)")
	default:
		left = " " + m.spinner.View() + " " + m.snap.State
	}

	who := "signed out"
	if m.me != nil {
		who = "signed in as " + m.me.DisplayName
	}
	ago := time.Since(m.lastRefresh).Truncate(time.Second)
	right := dimStyle.Render(fmt.Sprintf("%s | updated %s ago | f1 help ", who, shortDuration(ago)))
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return truncateLines(statusBarStyle.Render(left+gap+right), m.width)
}

// renderConversation draws the history marker followed by every message,
// oldest first.
func (m uiModel) renderConversation() string {
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}

	var b strings.Builder
	switch {
	case m.snap.Exhausted:
		b.WriteString(dimStyle.Render(centre("beginning of conversation", width)))
	case m.snap.Loading:
		b.WriteString(centre(m.spinner.View()+" loading older messages", width))
	case m.snap.State == stream.StateTailSubscribing.String():
		b.WriteString(centre(m.spinner.View()+" connecting", width))
	default:
		b.WriteString(dimStyle.Render(centre("scroll up for older messages", width)))
	}
	b.WriteRune('\n')

	if len(m.snap.Messages) == 0 && m.snap.State == stream.StateLive.String() {
		b.WriteRune('\n')
		b.WriteString(dimStyle.Render("  (no messages yet)"))
		b.WriteRune('\n')
	}

	for _, msg := range m.snap.Messages {
		b.WriteRune('\n')
		b.WriteString(m.renderMessage(msg, width))
	}
	return b.String()
}

// renderMessage draws one message bubble: received messages on the left
// with an avatar, sent messages on the right.
func (m uiModel) renderMessage(msg model.Message, width int) string {
	mine := m.snap.Mine(msg)
	bubbleWidth := max(20, width*2/3)

	style := receivedStyle
	switch {
	case msg.Pending():
		style = pendingStyle
	case mine:
		style = sentStyle
	}
	body := strings.Join(wrapText(msg.Text, bubbleWidth-2), "\n")
	bubble := style.Render(body)

	author := shortID(msg.AuthorID)
	if mine {
		author = "you"
	}
	meta := dimStyle.Render(author + " · " + messageTime(msg.CreatedAt))

	if mine {
		block := lipgloss.JoinVertical(lipgloss.Right, bubble, meta)
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, block) + "\n"
	}
	block := lipgloss.JoinVertical(lipgloss.Left, bubble, meta)
	return lipgloss.JoinHorizontal(lipgloss.Top, avatarGlyph(msg)+" ", block) + "\n"
}

// avatarGlyph is the terminal stand-in for an author's avatar: a filled dot
// for a custom avatar, a hollow one for the default placeholder.
func avatarGlyph(msg model.Message) string {
	glyph := "●"
	if msg.Avatar() == model.DefaultAvatarURL {
		glyph = "○"
	}
	h := fnv.New32a()
	h.Write([]byte(msg.AuthorID))
	return lipgloss.NewStyle().Foreground(avatarColors[h.Sum32()%uint32(len(avatarColors))]).Render(glyph)
}

// describeError turns synchronizer errors into status-bar text.
func describeError(err error) string {
	switch {
	case errors.Is(err, stream.ErrEmptyMessage):
		return "message is empty"
	case errors.Is(err, stream.ErrNotSignedIn):
		return "sign in to send messages"
	case errors.Is(err, stream.ErrSubscriptionLost):
		return "live updates lost: ctrl+r to reconnect"
	case stream.IsRetryable(err):
		return err.Error() + " (try again)"
	}
	return err.Error()
}

// --- Helpers ---

func messageTime(t *time.Time) string {
	if t == nil {
		return "sending…"
	}
	local, now := t.Local(), time.Now()
	if local.YearDay() == now.YearDay() && local.Year() == now.Year() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func centre(s string, width int) string {
	return lipgloss.PlaceHorizontal(width, lipgloss.Center, s)
}

// truncateLines truncates each line in content to at most width visible
// characters, preserving ANSI escape codes.
func truncateLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "")
		}
	}
	return strings.Join(lines, "\n")
}

// wrapText breaks s into lines of at most width characters, splitting on word
// boundaries where possible. If a single word exceeds width it is hard-split.
// Embedded newlines are respected.
func wrapText(s string, width int) []string {
	if width <= 0 {
		width = 80
	}
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		lines = append(lines, wrapParagraph([]rune(para), width)...)
	}
	return lines
}

func wrapParagraph(r []rune, width int) []string {
	var lines []string
	for len(r) > width {
		cut := -1
		for i := width; i > 0; i-- {
			if r[i] == ' ' {
				cut = i
				break
			}
		}
		if cut <= 0 {
			lines = append(lines, string(r[:width]))
			r = r[width:]
			continue
		}
		lines = append(lines, string(r[:cut]))
		r = r[cut+1:]
	}
	return append(lines, string(r))
}

func shortDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
