package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const minSidebarWidth = 24

func (m Model) sidebarWidth() int {
	w := m.width / 4
	if w < minSidebarWidth {
		w = minSidebarWidth
	}
	return w
}

func (m Model) chatWidth() int {
	w := m.width - m.sidebarWidth() - 4
	if w < 20 {
		w = 20
	}
	return w
}

// layout resizes the viewport and the message box to the window.
func (m *Model) layout() {
	chatWidth := m.chatWidth()
	// header, footer, borders and the status line
	vpHeight := m.height - 9
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.chatViewport.Width = chatWidth - 4
	m.chatViewport.Height = vpHeight
	m.messageInput.Width = chatWidth - 6
}

// renderConversation redraws the viewport from the current snapshot.
func (m *Model) renderConversation() {
	m.chatViewport.SetContent(m.conversationContent())
	if m.conversation.ScrollToLatest {
		m.chatViewport.GotoBottom()
	}
}

func (m Model) conversationContent() string {
	var content strings.Builder
	counterpart := m.displayName(m.conversation.CounterpartID)
	for _, msg := range m.conversation.Messages {
		label, style := counterpart, otherMessageStyle
		if msg.Own {
			label, style = "you", ownMessageStyle
		}
		stamp := ""
		if !msg.Timestamp.IsZero() {
			stamp = msg.Timestamp.Local().Format("15:04") + " "
		}
		content.WriteString(mutedStyle.Render(stamp) + style.Render(label) + ": " + msg.Content + "\n")
	}
	return content.String()
}

// displayName resolves id through the roster, falling back to the id.
func (m Model) displayName(id string) string {
	for _, e := range m.entries {
		if e.User.ID == id && e.User.FullName != "" {
			return e.User.FullName
		}
	}
	return id
}

func (m Model) View() string {
	if !m.inSession {
		return m.formView()
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), m.chatWindowView())
	help := "tab switch pane • enter select/send • ctrl+r refresh • ctrl+l logout • ctrl+c quit"
	status := mutedStyle.Render(help)
	if m.status != "" {
		status = errorStyle.Render(m.status)
	}
	return lipgloss.JoinVertical(lipgloss.Left, main, status)
}

func (m Model) formView() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("chatdesk") + "\n\n")

	labels := [fieldCount]string{"Id:   ", "Name: ", "Role: "}
	for i := range m.fields {
		s.WriteString(labels[i] + m.fields[i].View() + "\n")
	}
	s.WriteString("\n")

	if m.banner != "" {
		s.WriteString(errorStyle.Render(m.banner) + "\n")
	}
	if m.connecting {
		s.WriteString(mutedStyle.Render("Connecting..."))
	} else {
		s.WriteString(mutedStyle.Render("Enter to connect • Tab to switch field • Ctrl+C to quit"))
	}

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, boxStyle.Render(s.String()))
}

func (m Model) sidebarView() string {
	var s strings.Builder

	border := mutedColor
	if m.focusedPane == paneRoster {
		border = activeBorder
	}
	style := sidebarStyle.
		Width(m.sidebarWidth() - 2).
		Height(m.height - 3).
		BorderForeground(border)

	s.WriteString(titleStyle.Render(fmt.Sprintf("%s (%s)", m.identity.FullName, m.identity.Role)))
	s.WriteString("\n\n")

	if len(m.entries) == 0 {
		s.WriteString(mutedStyle.Render("Nobody online yet.\nctrl+r to refresh."))
		return style.Render(s.String())
	}

	for i, e := range m.entries {
		line := e.User.FullName
		if line == "" {
			line = e.User.ID
		}
		if e.Unread {
			line += unreadStyle.Render(" new")
		}

		switch {
		case i == m.cursor && m.focusedPane == paneRoster:
			s.WriteString(cursorItemStyle.Render("> "+line) + "\n")
		case e.Active:
			s.WriteString(activeItemStyle.Render("* "+line) + "\n")
		default:
			s.WriteString(itemStyle.Render("  "+line) + "\n")
		}
	}
	return style.Render(s.String())
}

func (m Model) chatWindowView() string {
	border := mutedColor
	if m.focusedPane == paneChat {
		border = activeBorder
	}
	style := chatWindowStyle.
		Width(m.chatWidth()).
		Height(m.height - 3).
		BorderForeground(border)

	if m.conversation.CounterpartID == "" {
		return style.Render(lipgloss.Place(
			m.chatWidth()-2, m.height-5,
			lipgloss.Center, lipgloss.Center,
			mutedStyle.Render("Select someone to start chatting"),
		))
	}

	header := headerStyle.Width(m.chatWidth() - 2).Render(m.displayName(m.conversation.CounterpartID))
	footer := footerStyle.Width(m.chatWidth() - 2).Render(m.messageInput.View())
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, header, m.chatViewport.View(), footer))
}
