package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/adamgarcia4/goLearning/chandylamport/logger"
	"github.com/adamgarcia4/goLearning/chandylamport/node"
	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
)

var (
	clusterSize       int
	clusterGRPC       bool
	clusterBasePort   int
	clusterBalance    int64
	clusterMaxAmount  int64
	clusterInterval   time.Duration
	autoSnapshotEvery time.Duration
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Run a local cluster with an interactive snapshot viewer",
	Long: `Start a fully connected cluster of peers in this process and watch
balances, snapshots and logs in a terminal UI.

Keyboard shortcuts:
  S       - Take a snapshot from the selected peer
  A       - Toggle automatic snapshots from the selected peer
  ←/→/h/l - Select a peer
  ↑/↓/j/k - Scroll logs
  C       - Clear logs
  Q       - Quit

Examples:
  chandylamport interactive --size=4
  chandylamport interactive --grpc --base-port=50051`,
	RunE: runInteractive,
}

func init() {
	rootCmd.AddCommand(interactiveCmd)

	interactiveCmd.Flags().IntVar(&clusterSize, "size", 3, "Number of peers")
	interactiveCmd.Flags().BoolVar(&clusterGRPC, "grpc", false, "Connect peers over gRPC on loopback instead of in memory")
	interactiveCmd.Flags().IntVar(&clusterBasePort, "base-port", node.DefaultBasePort, "Port of the first peer with --grpc")
	interactiveCmd.Flags().Int64Var(&clusterBalance, "initial-balance", node.DefaultInitialBalance, "Starting balance of every peer")
	interactiveCmd.Flags().Int64Var(&clusterMaxAmount, "max-transfer", node.DefaultMaxTransfer, "Largest single transfer")
	interactiveCmd.Flags().DurationVar(&clusterInterval, "transfer-interval", node.DefaultTransferInterval, "Time between transfers of each peer")
	interactiveCmd.Flags().DurationVar(&autoSnapshotEvery, "auto-interval", 2*time.Second, "Time between automatic snapshots")
}

type model struct {
	manager   *node.Manager
	nodes     []*node.Node
	selected  int
	auto      bool
	expected  int64 // money in the cluster
	global    *snapshot.Global
	err       error
	logBuffer *logger.LogBuffer
	logScroll int // for scrolling logs
	width     int
	height    int
}

func initialModel() (model, error) {
	// Initialize logger for interactive mode (no stdout, only log buffer)
	logBuffer := logger.GetGlobalLogBuffer()
	if err := initLogger(false); err != nil {
		return model{}, err
	}
	if err := logger.AddOutput(logger.NewLogBufferWriter(logBuffer)); err != nil {
		return model{}, err
	}

	manager := node.NewManager(node.ManagerConfig{
		InMemory: !clusterGRPC,
		BasePort: clusterBasePort,
		Configure: func(c *node.Config) {
			c.InitialBalance = clusterBalance
			c.MaxTransfer = clusterMaxAmount
			c.TransferInterval = clusterInterval
		},
	})
	if err := manager.StartCluster(clusterSize); err != nil {
		return model{}, err
	}

	return model{
		manager:   manager,
		nodes:     manager.GetNodes(),
		expected:  int64(clusterSize) * clusterBalance,
		logBuffer: logBuffer,
	}, nil
}

func (m model) Init() tea.Cmd {
	// Refresh peers periodically
	return tea.Batch(tick(), refreshCluster(m.manager))
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

type tickMsg struct{}

func autoTick() tea.Cmd {
	return tea.Tick(autoSnapshotEvery, func(time.Time) tea.Msg {
		return autoSnapshotMsg{}
	})
}

type autoSnapshotMsg struct{}

func refreshCluster(manager *node.Manager) tea.Cmd {
	return func() tea.Msg {
		msg := clusterUpdatedMsg{nodes: manager.GetNodes()}
		if global, ok := manager.LatestGlobalSnapshot(); ok {
			msg.global = &global
		}
		return msg
	}
}

type clusterUpdatedMsg struct {
	nodes  []*node.Node
	global *snapshot.Global
}

type shutdownCompleteMsg struct {
	err error
}

// shutdownCluster stops all peers and sends a message when complete
func shutdownCluster(manager *node.Manager) tea.Cmd {
	return func() tea.Msg {
		err := manager.StopAll()
		return shutdownCompleteMsg{err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// Stop all peers gracefully and wait for completion
			return m, shutdownCluster(m.manager)

		case "s", "S":
			m.initiate()
			return m, nil

		case "a", "A":
			m.auto = !m.auto
			if m.auto {
				m.initiate()
				return m, autoTick()
			}
			return m, nil

		case "left", "h":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil

		case "right", "l", "tab":
			if m.selected < len(m.nodes)-1 {
				m.selected++
			}
			return m, nil

		case "c", "C":
			m.logBuffer.Clear()
			m.logScroll = 0
			return m, nil

		case "up", "k":
			// Scroll logs up (show older logs)
			maxScroll := m.logBuffer.Len() - 15 // Can scroll back until we have 15 entries left
			if m.logScroll < maxScroll {
				m.logScroll++
			}
			return m, nil

		case "down", "j":
			// Scroll logs down (show newer logs)
			if m.logScroll > 0 {
				m.logScroll--
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(tick(), refreshCluster(m.manager))

	case autoSnapshotMsg:
		if !m.auto {
			return m, nil
		}
		m.initiate()
		return m, autoTick()

	case clusterUpdatedMsg:
		m.nodes = msg.nodes
		if msg.global != nil {
			m.global = msg.global
		}
		return m, nil

	case shutdownCompleteMsg:
		// Log any shutdown errors via the logger
		if msg.err != nil {
			logger.Printf("Error stopping peers during shutdown: %v", msg.err)
		}
		// Now quit after shutdown is complete
		return m, tea.Quit
	}

	return m, nil
}

func (m *model) initiate() {
	if _, err := m.manager.Initiate(m.selected); err != nil {
		m.err = err
		return
	}
	m.err = nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(1, 2)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)
	okStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	boxStyle          = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	instructionsStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true).PaddingTop(1)
)

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("Chandy-Lamport Cluster"))
	s.WriteString("\n\n")

	// Status
	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}

	boxWidth := 100
	if m.width > 0 {
		boxWidth = m.width - 4 // Leave some margin
	}

	s.WriteString(boxStyle.Width(boxWidth).Render(m.peersView()))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(boxWidth).Render(m.globalView()))
	s.WriteString("\n")
	s.WriteString(boxStyle.Width(boxWidth).Height(13).Render(m.logsView()))
	s.WriteString("\n")

	auto := "off"
	if m.auto {
		auto = "on"
	}
	s.WriteString(instructionsStyle.Render(fmt.Sprintf(
		"S snapshot | A auto snapshots (%s) | ←/→ select peer | ↑/↓ scroll logs | C clear logs | Q quit", auto)))

	return s.String()
}

func (m model) peersView() string {
	var s strings.Builder
	s.WriteString("Peers:\n")

	var total int64
	for i, n := range m.nodes {
		balance := n.Balance()
		total += balance
		line := fmt.Sprintf("%-10s balance %6d | pending %3d | recording %2d | snapshots %3d",
			n.PeerID(), balance, n.Pending(), len(n.ActiveSnapshots()), len(n.History()))
		if i == m.selected {
			s.WriteString(selectedStyle.Render("> " + line))
		} else {
			s.WriteString("  " + line)
		}
		s.WriteString("\n")
	}
	s.WriteString(fmt.Sprintf("  balances now %d of %d (the rest is in flight)", total, m.expected))
	return s.String()
}

func (m model) globalView() string {
	if m.global == nil {
		return "Last global snapshot: none yet, press S"
	}
	g := m.global

	var s strings.Builder
	s.WriteString(fmt.Sprintf("Last global snapshot %s (initiated by %s)\n", g.ID, g.Initiator))
	for _, peer := range g.Peers() {
		var inFlight []string
		for sender, amounts := range g.InFlight[peer] {
			if len(amounts) > 0 {
				inFlight = append(inFlight, fmt.Sprintf("%s %v", sender, amounts))
			}
		}
		sort.Strings(inFlight)
		line := fmt.Sprintf("  %-10s %6d", peer, g.States[peer])
		if len(inFlight) > 0 {
			line += "  in flight from " + strings.Join(inFlight, ", ")
		}
		s.WriteString(line + "\n")
	}

	total := g.Total()
	check := fmt.Sprintf("  total %d, expected %d", total, m.expected)
	if total == m.expected {
		s.WriteString(okStyle.Render(check + " ✓"))
	} else {
		s.WriteString(errorStyle.Render(check + " ✗"))
	}
	return s.String()
}

func (m model) logsView() string {
	const logCount = 15

	// Get all log entries once to avoid redundant buffer access
	entries := m.logBuffer.GetAll()
	if len(entries) == 0 {
		return "Logs:\n     | (no logs yet)"
	}

	// logScroll=0 shows the most recent logCount entries
	end := len(entries) - m.logScroll
	if end < 0 {
		end = 0
	}
	start := end - logCount
	if start < 0 {
		start = 0
	}

	// Newest first; line 0 is the most recent entry
	lines := make([]string, 0, end-start)
	for i := end - 1; i >= start; i-- {
		lineNumber := len(entries) - 1 - i
		lines = append(lines, fmt.Sprintf("%4d | %s", lineNumber, logger.FormatLogEntry(entries[i])))
	}
	return "Logs:\n" + strings.Join(lines, "\n")
}

func runInteractive(cmd *cobra.Command, args []string) error {
	m, err := initialModel()
	if err != nil {
		return fmt.Errorf("failed to start cluster: %w", err)
	}
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		_ = m.manager.StopAll()
		return fmt.Errorf("error running interactive mode: %w", err)
	}
	return nil
}
