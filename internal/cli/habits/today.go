package habits

import (
	"fmt"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/models"
)

type HabitTodayCmd struct {
	Date string `help:"Date in YYYY-MM-DD format (default: today)."`
}

func (c *HabitTodayCmd) Run(ctx *cli.Context) error {
	svc := ctx.Habits()
	date, err := cli.ResolveDate(c.Date, svc.Today())
	if err != nil {
		return err
	}

	items, err := svc.Agenda(date)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Printf("Nothing due on %s.\n", date)
		return nil
	}

	fmt.Println(cli.TitleStyle.Render("Habits for " + date))
	fmt.Println()
	done := 0
	var current habitlog.Slot = -1
	for _, item := range items {
		if item.Slot != current {
			current = item.Slot
			fmt.Println(cli.MutedStyle.Render(item.Slot.String()))
		}
		if item.Status == habitlog.StatusDone {
			done++
		}
		line := fmt.Sprintf("  [%s] %s", cli.StatusMark(item.Status, item.Cleared), item.Name)
		if p := formatProgress(item.Goal, item.Progress); p != "" {
			line += "  " + p
		}
		if item.Note != "" {
			line += "  " + cli.MutedStyle.Render("“"+item.Note+"”")
		}
		fmt.Println(line)
	}

	fmt.Printf("\nDone: %d/%d\n", done, len(items))
	return nil
}

func formatProgress(goal models.Goal, p *models.GoalProgress) string {
	if goal.Type == models.GoalCheck {
		return ""
	}
	value := 0
	if p != nil {
		value = p.Value
	}
	unit := goal.Unit
	if unit == "" {
		unit = string(goal.Type)
	}
	if goal.Total != nil {
		return fmt.Sprintf("%d/%d %s", value, *goal.Total, unit)
	}
	return fmt.Sprintf("%d %s", value, unit)
}
