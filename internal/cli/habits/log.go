package habits

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/constants"
	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/schedule"
	"github.com/julianstephens/habitsync/internal/service"
	"github.com/julianstephens/habitsync/internal/utils"
)

type HabitLogCmd struct {
	Habit string `arg:"" optional:"" help:"Show the log of one habit only."`
	Month string `help:"Month in YYYY-MM format (default: this month)."`
}

var cellStyle = lipgloss.NewStyle().Width(8)

func (c *HabitLogCmd) Run(ctx *cli.Context) error {
	svc := ctx.Habits()
	month := c.Month
	if month == "" {
		month = svc.Today()[:7]
	}
	first, err := time.Parse(constants.MonthFormat, month)
	if err != nil {
		return fmt.Errorf("invalid month format: %s (expected YYYY-MM)", month)
	}

	snap, err := svc.Snapshot()
	if err != nil {
		return err
	}

	var selected []*models.Habit
	if c.Habit != "" {
		h, err := service.Resolve(snap, c.Habit)
		if err != nil {
			return err
		}
		selected = append(selected, h)
	} else {
		for i := range snap.Habits {
			if !snap.Habits[i].IsDeleted() {
				selected = append(selected, &snap.Habits[i])
			}
		}
	}
	if len(selected) == 0 {
		fmt.Println("No habits found.")
		return nil
	}

	for i, h := range selected {
		if i > 0 {
			fmt.Println()
		}
		fmt.Println(renderMonth(snap, h, first))
	}
	fmt.Println()
	fmt.Printf("%s done  %s deferred  %s cleared  %s pending\n",
		cli.StatusMark(habitlog.StatusDone, false),
		cli.StatusMark(habitlog.StatusDeferred, false),
		cli.StatusMark(habitlog.StatusNull, true),
		cli.StatusMark(habitlog.StatusNull, false))
	return nil
}

// renderMonth draws one habit's month as a Monday-first calendar. Each day
// shows one mark per time of day it was due.
func renderMonth(snap *models.Snapshot, h *models.Habit, first time.Time) string {
	var b strings.Builder
	b.WriteString(cli.TitleStyle.Render(fmt.Sprintf("%s  %s", h.Name(), first.Format("January 2006"))))
	b.WriteString("\n")

	header := make([]string, 7)
	for i := range header {
		header[i] = cellStyle.Render(time.Weekday((i + 1) % 7).String()[:3])
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, header...))
	b.WriteString("\n")

	offset := (int(first.Weekday()) + 6) % 7
	row := make([]string, 0, 7)
	for i := 0; i < offset; i++ {
		row = append(row, cellStyle.Render(""))
	}
	for d := first; d.Month() == first.Month(); d = d.AddDate(0, 0, 1) {
		row = append(row, cellStyle.Render(dayCell(snap, h, d)))
		if len(row) == 7 {
			b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...))
			b.WriteString("\n")
			row = row[:0]
		}
	}
	if len(row) > 0 {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func dayCell(snap *models.Snapshot, h *models.Habit, d time.Time) string {
	date := utils.FormatDate(d)
	marks := make([]string, 0, habitlog.SlotsPerDay)
	for _, slot := range schedule.TimesOn(snap, h, date) {
		marks = append(marks, cli.StatusMark(snap.MonthlyLogs.GetStatus(h.ID, d, slot), snap.MonthlyLogs.IsCleared(h.ID, d, slot)))
	}
	return fmt.Sprintf("%2d %s", d.Day(), strings.Join(marks, ""))
}
