package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kuntur/kuntur/internal/armed"
	"github.com/kuntur/kuntur/internal/kuntur"
	"github.com/kuntur/kuntur/internal/stream"
	"github.com/kuntur/kuntur/internal/tui/client"
	"github.com/kuntur/kuntur/internal/tui/theme"
	"github.com/kuntur/kuntur/internal/tui/views/audio"
	"github.com/kuntur/kuntur/internal/tui/views/control"
	"github.com/kuntur/kuntur/internal/tui/views/eventlog"
	"github.com/kuntur/kuntur/internal/tui/views/help"
	"github.com/kuntur/kuntur/internal/tui/views/status"
	"github.com/kuntur/kuntur/internal/tui/views/video"
)

const (
	healthInterval = 5 * time.Second
	intentTimeout  = 15 * time.Second
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayLog
	OverlayHelp
)

type healthTickMsg struct{}

type healthMsg struct {
	health *client.Health
	err    error
}

type frameMsg struct {
	size int
	at   time.Time
	err  error
}

// intentMsg is the result of an intent POST.
type intentMsg struct {
	label string
	err   error
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys    KeyMap
	width   int
	height  int
	overlay Overlay

	// Sub-views.
	statusBar status.Model
	control   control.Model
	video     video.Model
	audio     audio.Model
	log       eventlog.Model

	spinner  spinner.Model
	spinning bool

	// Feed bookkeeping.
	connected   bool
	resync      bool // next snapshot replaces state regardless of seq
	streamSeq   uint64
	armedSeq    uint64
	frameURL    string // last URL requested
	fetching    bool
	lastArmed   armed.Phase
	lastVideoPh string
	lastAudioPh string
}

// New creates the root model.
func New(ws *client.WSClient, http *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(theme.ColorConnecting)
	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		statusBar: status.New(),
		control:   control.New(),
		video:     video.New(),
		audio:     audio.New(),
		log:       eventlog.New(),
		spinner:   sp,
	}
}

// Init starts the websocket connection and the health poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ws.Listen(m.ctx), m.fetchHealth())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.control.Width = msg.Width
		m.video.Width = msg.Width / 2
		m.audio.Width = msg.Width - msg.Width/2
		m.log.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		if m.overlay == OverlayLog {
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			return m, cmd
		}
		return m, nil

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		// The server may have restarted and its seqs with it.
		m.resync = true
		m.log.Add("ws", "connected")
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		if msg.Err != nil {
			m.log.Add("ws", "disconnected: "+msg.Err.Error())
		} else {
			m.log.Add("ws", "disconnected")
		}
		return m, m.ws.Listen(m.ctx)

	case client.WSSnapshotMsg:
		cmd := m.applyState(msg.State)
		return m, tea.Batch(cmd, m.ws.ReadLoop(m.ctx))

	case client.WSStreamMsg:
		cmd := m.applyStream(msg.Snapshot)
		return m, tea.Batch(cmd, m.ws.ReadLoop(m.ctx))

	case client.WSArmedMsg:
		cmd := m.applyArmed(msg.State)
		return m, tea.Batch(cmd, m.ws.ReadLoop(m.ctx))

	case client.WSErrorMsg:
		m.log.Add("err", fmt.Sprintf("%s: %s", msg.Payload.Op, msg.Payload.Message))
		return m, m.ws.ReadLoop(m.ctx)

	case intentMsg:
		if msg.err != nil {
			m.log.Add("err", fmt.Sprintf("%s: %v", msg.label, msg.err))
		}
		return m, nil

	case frameMsg:
		m.fetching = false
		if msg.err != nil {
			m.video.FrameFailed(msg.err)
			m.log.Add("vid", "frame failed: "+msg.err.Error())
		} else {
			m.video.FrameLoaded(msg.size, msg.at)
		}
		// The URL may have rotated while the download was running.
		return m, m.maybeFetchFrame()

	case healthTickMsg:
		return m, m.fetchHealth()

	case healthMsg:
		if msg.err == nil && msg.health != nil {
			m.statusBar.Host = msg.health.Host
			m.statusBar.Registered = msg.health.Registered
		}
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return healthTickMsg{} })

	case audio.FrameMsg:
		var cmd tea.Cmd
		m.audio, cmd = m.audio.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) busy() bool {
	return m.control.Busy() || m.video.Busy() || m.audio.Busy()
}

// spin starts the shared spinner when a view became busy.
func (m *Model) spin() tea.Cmd {
	if m.spinning || !m.busy() {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m *Model) applyState(st kuntur.State) tea.Cmd {
	m.statusBar.Registered = st.Registered
	if st.Profile != nil {
		m.statusBar.Storefront = st.Profile.LocalName
		m.statusBar.Camera = st.Profile.CameraIP
	}
	// Periodic snapshots are ordered like deltas; only the first one after
	// a connect replaces state unconditionally.
	force := m.resync
	m.resync = false
	var cmds []tea.Cmd
	if st.Stream != nil {
		if force {
			cmds = append(cmds, m.applyStreamForce(*st.Stream))
		} else {
			cmds = append(cmds, m.applyStream(*st.Stream))
		}
	}
	if st.Armed != nil {
		if force {
			cmds = append(cmds, m.applyArmedForce(*st.Armed))
		} else {
			cmds = append(cmds, m.applyArmed(*st.Armed))
		}
	}
	return tea.Batch(cmds...)
}

// applyStream drops deliveries older than the last applied one.
func (m *Model) applyStream(s stream.Snapshot) tea.Cmd {
	if m.video.Known && s.Seq <= m.streamSeq {
		return nil
	}
	return m.applyStreamForce(s)
}

func (m *Model) applyStreamForce(s stream.Snapshot) tea.Cmd {
	m.streamSeq = s.Seq
	if s.Camera != "" && m.statusBar.Camera == "" {
		m.statusBar.Camera = s.Camera
	}
	m.video.Session = s.Video
	m.video.Known = true

	if ph := s.Video.Phase(); ph != m.lastVideoPh {
		m.log.Add("vid", phaseChange(m.lastVideoPh, ph))
		m.lastVideoPh = ph
	}
	if ph := s.Audio.Phase(); ph != m.lastAudioPh {
		m.log.Add("aud", phaseChange(m.lastAudioPh, ph))
		m.lastAudioPh = ph
	}

	return tea.Batch(m.audio.SetSession(s.Audio), m.maybeFetchFrame(), m.spin())
}

func phaseChange(prev, next string) string {
	if prev == "" {
		return next
	}
	return prev + " -> " + next
}

func (m *Model) applyArmed(s armed.State) tea.Cmd {
	if m.control.Known && s.Seq <= m.armedSeq {
		return nil
	}
	return m.applyArmedForce(s)
}

func (m *Model) applyArmedForce(s armed.State) tea.Cmd {
	if !m.control.Known || s.Phase != m.lastArmed {
		m.log.Add("arm", s.Phase.String())
	}
	if s.LastError != "" && s.LastError != m.control.State.LastError {
		m.log.Add("err", "kuntur: "+s.LastError)
	}
	m.armedSeq = s.Seq
	m.lastArmed = s.Phase
	m.control.State = s
	m.control.Known = true
	return m.spin()
}

// maybeFetchFrame downloads the current snapshot once per URL while the
// video session is live.
func (m *Model) maybeFetchFrame() tea.Cmd {
	v := m.video.Session
	if m.http == nil || m.fetching || !v.Live() || v.SnapshotURL == "" || v.SnapshotURL == m.frameURL {
		return nil
	}
	m.fetching = true
	m.frameURL = v.SnapshotURL
	hc, ctx := m.http, m.ctx
	return func() tea.Msg {
		data, err := hc.Frame(ctx)
		return frameMsg{size: len(data), at: time.Now(), err: err}
	}
}

func (m Model) fetchHealth() tea.Cmd {
	if m.http == nil {
		return nil
	}
	hc, ctx := m.http, m.ctx
	return func() tea.Msg {
		h, err := hc.Health(ctx)
		return healthMsg{health: h, err: err}
	}
}

// intent runs fn against the HTTP client and reports only failures.
func (m Model) intent(label string, fn func(ctx context.Context, hc *client.HTTPClient) error) tea.Cmd {
	if m.http == nil {
		return nil
	}
	hc, parent := m.http, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, intentTimeout)
		defer cancel()
		return intentMsg{label: label, err: fn(ctx, hc)}
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case m.overlay == OverlayHelp && key.Matches(msg, m.keys.Help):
			m.overlay = OverlayNone
		case m.overlay == OverlayLog && key.Matches(msg, m.keys.Log):
			m.overlay = OverlayNone
		case m.overlay == OverlayLog:
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Log):
		m.overlay = OverlayLog
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
		return m, nil

	case key.Matches(msg, m.keys.Toggle):
		return m, m.intent("kuntur.toggle", func(ctx context.Context, hc *client.HTTPClient) error {
			return hc.Kuntur(ctx, "toggle")
		})

	case key.Matches(msg, m.keys.Refresh):
		return m, m.intent("kuntur.refresh", func(ctx context.Context, hc *client.HTTPClient) error {
			return hc.Kuntur(ctx, "refresh")
		})

	case key.Matches(msg, m.keys.Video):
		action := "start"
		if v := m.video.Session; v.Active || v.Connecting {
			action = "stop"
		}
		return m, m.intent("video."+action, func(ctx context.Context, hc *client.HTTPClient) error {
			return hc.Video(ctx, action)
		})

	case key.Matches(msg, m.keys.Audio):
		action := "start"
		if a := m.audio.Session; a.Active || a.Connecting {
			action = "stop"
		}
		return m, m.intent("audio."+action, func(ctx context.Context, hc *client.HTTPClient) error {
			return hc.Audio(ctx, action)
		})

	case key.Matches(msg, m.keys.Quality):
		q := m.video.Session.Quality.Next()
		return m, m.intent("video.quality", func(ctx context.Context, hc *client.HTTPClient) error {
			return hc.SetQuality(ctx, q)
		})

	case key.Matches(msg, m.keys.Retry):
		return m, m.intent("video.retry", func(ctx context.Context, hc *client.HTTPClient) error {
			return hc.Video(ctx, "retry")
		})

	case key.Matches(msg, m.keys.Clear):
		return m, m.intent("clear-error", func(ctx context.Context, hc *client.HTTPClient) error {
			if err := hc.Video(ctx, "clear-error"); err != nil {
				return err
			}
			return hc.Audio(ctx, "clear-error")
		})
	}

	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	switch m.overlay {
	case OverlayLog:
		return m.center(m.log.View())
	case OverlayHelp:
		return m.center(help.Render(min(m.width, 80)))
	}

	if !m.connected {
		return m.center(m.renderDisconnected())
	}

	frame := m.spinner.View()
	ctl, vid, aud := m.control, m.video, m.audio
	ctl.Spinner, vid.Spinner, aud.Spinner = frame, frame, frame

	sections := []string{
		m.statusBar.View(),
		ctl.View(),
		lipgloss.JoinHorizontal(lipgloss.Top, vid.View(), aud.View()),
		theme.StyleDimmed.Render("  space:on/off  v:video  a:audio  q:quality  r:retry  c:clear  u:refresh  l:log  ?:help  ctrl+c:quit"),
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderDisconnected() string {
	body := lipgloss.JoinVertical(lipgloss.Center,
		lipgloss.NewStyle().Bold(true).Foreground(theme.ColorDanger).Render("DISCONNECTED"),
		"",
		theme.StyleDimmed.Render("Reconnecting to the kuntur server..."),
	)
	return lipgloss.NewStyle().
		Padding(1, 4).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorDanger).
		Render(body)
}

func (m Model) center(s string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, s)
}
