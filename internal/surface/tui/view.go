package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"salesops-relay/internal/notify"
	"salesops-relay/internal/verification/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Width(3).
			Align(lipgloss.Center)
	focusedBoxStyle = boxStyle.BorderForeground(lipgloss.Color("205"))
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	urgentStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	okStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	panelStyle      = lipgloss.NewStyle().Padding(1, 2)
)

// urgentSeconds is when the countdown turns red.
const urgentSeconds = 10

// View renders the prompt or the idle screen.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("销售运营 · 验证码中继"))
	b.WriteString("\n\n")

	if m.snap.Visible {
		b.WriteString(m.promptView())
	} else {
		b.WriteString(m.idleView())
	}

	if m.status != "" {
		b.WriteString("\n\n")
		b.WriteString(statusStyle(m.level).Render(m.status))
	}
	return panelStyle.Render(b.String())
}

func (m Model) promptView() string {
	var b strings.Builder
	fmt.Fprintf(&b, "请输入手机 %s 收到的验证码\n\n", m.snap.PhoneNumber)

	boxes := make([]string, domain.CodeLength)
	for i := range boxes {
		style := boxStyle
		if i == m.cursor {
			style = focusedBoxStyle
		}
		d := m.snap.Digits[i]
		if d == "" {
			d = " "
		}
		boxes[i] = style.Render(d)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	countdown := fmt.Sprintf("剩余 %d 秒", m.snap.CountdownSeconds)
	if m.snap.CountdownSeconds <= urgentSeconds {
		countdown = urgentStyle.Render(countdown)
	}
	b.WriteString(countdown)
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("←/→ 切换 · Backspace 删除 · Esc 关闭 · Ctrl+C 退出"))
	return b.String()
}

func (m Model) idleView() string {
	var b strings.Builder
	if m.connected {
		b.WriteString(okStyle.Render("● 已连接"))
		b.WriteString("  等待验证请求…")
	} else {
		b.WriteString(warnStyle.Render("○ 未连接"))
		b.WriteString("  按 r 重新连接")
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("q 退出"))
	return b.String()
}

func statusStyle(level notify.Level) lipgloss.Style {
	switch level {
	case notify.LevelSuccess:
		return okStyle
	case notify.LevelWarning:
		return warnStyle
	case notify.LevelError:
		return errStyle
	default:
		return mutedStyle
	}
}
