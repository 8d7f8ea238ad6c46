package scanner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/num-err/smartscan/v1/models"
)

var (
	allowedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	deniedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0")).Width(16)
	cardStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Render formats a lookup outcome for the terminal
func Render(member *models.Member, err error) string {
	if err != nil {
		return cardStyle.Render(deniedStyle.Render(describeError(err)))
	}

	rows := []string{
		allowedStyle.Render("ALLOWED"),
		row("ID", fmt.Sprintf("%d", member.MemberID)),
		row("Name", member.Name),
		row("Male members", fmt.Sprintf("%d", member.MaleCount)),
		row("Female members", fmt.Sprintf("%d", member.FemaleCount)),
		row("Special case", member.SpecialCase),
	}
	if member.LastScanTime != nil {
		rows = append(rows, row("Scanned at", member.LastScanTime.Local().Format(time.DateTime)))
	}
	return cardStyle.Render(strings.Join(rows, "\n"))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func describeError(err error) string {
	var throttled *models.ScanThrottledError
	switch {
	case errors.As(err, &throttled):
		return fmt.Sprintf("DENIED: member %d was already scanned today (retry in %s)",
			throttled.MemberID, throttled.RetryAfter.Round(time.Minute))
	case errors.Is(err, models.ErrMemberNotFound):
		return "UNKNOWN: no member with this ID"
	case errors.Is(err, models.ErrValidation):
		return "INVALID: " + strings.TrimPrefix(err.Error(), models.ErrValidation.Error()+": ")
	default:
		return "ERROR: " + err.Error()
	}
}
