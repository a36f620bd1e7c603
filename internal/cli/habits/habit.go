package habits

import (
	"fmt"
	"strings"

	"github.com/julianstephens/habitsync/internal/cli"
	"github.com/julianstephens/habitsync/internal/habitlog"
	"github.com/julianstephens/habitsync/internal/models"
	"github.com/julianstephens/habitsync/internal/schedule"
	"github.com/julianstephens/habitsync/internal/service"
)

type HabitCmd struct {
	Add        HabitAddCmd        `cmd:"" help:"Add a new habit."`
	List       HabitListCmd       `cmd:"" help:"List habits."`
	Mark       HabitMarkCmd       `cmd:"" help:"Mark a habit done or deferred."`
	Clear      HabitClearCmd      `cmd:"" help:"Clear the status of a habit."`
	Note       HabitNoteCmd       `cmd:"" help:"Attach a note to a habit instance."`
	Progress   HabitProgressCmd   `cmd:"" help:"Record progress toward a habit's goal."`
	Skip       HabitSkipCmd       `cmd:"" help:"Skip a habit for one day."`
	Reschedule HabitRescheduleCmd `cmd:"" help:"Change a habit's schedule from a date on."`
	Graduate   HabitGraduateCmd   `cmd:"" help:"Graduate a habit (stop tracking, keep history)."`
	Delete     HabitDeleteCmd     `cmd:"" help:"Delete a habit (soft delete)."`
	Restore    HabitRestoreCmd    `cmd:"" help:"Restore a deleted habit."`
	Purge      HabitPurgeCmd      `cmd:"" help:"Remove the logs of a deleted habit."`
	Today      HabitTodayCmd      `cmd:"" help:"Show the habits due today."`
	Log        HabitLogCmd        `cmd:"" help:"Show a habit's monthly log."`
}

type HabitAddCmd struct {
	Name  string `arg:"" help:"Habit name."`
	Times string `help:"Times of day (comma-separated: morning, afternoon, evening)." default:"morning"`
	Every string `help:"Frequency: day, 'N days' or 'N weeks'." default:"day"`
	Days  string `help:"Weekdays (comma-separated), overrides --every."`
	Goal  string `help:"Goal type: check, pages or minutes." default:"check" enum:"check,pages,minutes"`
	Total int    `help:"Goal total for pages or minutes."`
	Unit  string `help:"Goal unit label."`
	Start string `help:"Start date in YYYY-MM-DD format (default: today)."`
	Icon  string `help:"Icon."`
	Color string `help:"Color."`
}

func (c *HabitAddCmd) Run(ctx *cli.Context) error {
	slots, err := cli.ParseSlots(c.Times)
	if err != nil {
		return err
	}
	freq, err := cli.ParseFrequency(c.Every, c.Days)
	if err != nil {
		return err
	}
	goal, err := buildGoal(c.Goal, c.Total, c.Unit)
	if err != nil {
		return err
	}

	h, err := ctx.Habits().Create(service.NewHabit{
		Name:      c.Name,
		Icon:      c.Icon,
		Color:     c.Color,
		Goal:      goal,
		Times:     slots,
		Frequency: freq,
		StartDate: c.Start,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Added habit: %s (%s)\n", c.Name, shortID(h.ID))
	return nil
}

func buildGoal(kind string, total int, unit string) (models.Goal, error) {
	t, err := models.ParseGoalType(kind)
	if err != nil {
		return models.Goal{}, err
	}
	goal := models.Goal{Type: t, Unit: unit}
	if total > 0 {
		goal.Total = &total
	} else if total < 0 {
		return models.Goal{}, fmt.Errorf("goal total must be positive")
	}
	return goal, nil
}

type HabitListCmd struct {
	Deleted bool `help:"Include deleted habits."`
}

func (c *HabitListCmd) Run(ctx *cli.Context) error {
	habits, err := ctx.Habits().Habits(c.Deleted)
	if err != nil {
		return err
	}

	if len(habits) == 0 {
		fmt.Println("No habits found.")
		return nil
	}

	for _, h := range habits {
		cur := h.Current()
		status := ""
		if h.DeletedOn != nil {
			status = cli.DangerStyle.Render(" [DELETED]")
		} else if h.GraduatedOn != nil {
			status = cli.WarningStyle.Render(" [GRADUATED " + *h.GraduatedOn + "]")
		}
		fmt.Printf("%s  %s%s\n", cli.MutedStyle.Render(shortID(h.ID)), h.Name(), status)
		fmt.Printf("          %s, %s\n", cli.FormatFrequency(cur.Frequency), formatSlots(cur.Times))
	}

	return nil
}

type HabitMarkCmd struct {
	Habit    string `arg:"" help:"Habit name or id."`
	Date     string `help:"Date in YYYY-MM-DD format (default: today)."`
	Time     string `help:"Time of day (needed when the habit is due more than once)."`
	Deferred bool   `help:"Defer instead of marking done."`
}

func (c *HabitMarkCmd) Run(ctx *cli.Context) error {
	svc := ctx.Habits()
	date, slot, err := resolveInstance(svc, c.Habit, c.Date, c.Time)
	if err != nil {
		return err
	}

	status := habitlog.StatusDone
	if c.Deferred {
		status = habitlog.StatusDeferred
	}
	if err := svc.SetStatus(c.Habit, date, slot, status); err != nil {
		return err
	}

	fmt.Printf("Marked %q %s for %s (%s)\n", c.Habit, status, date, slot)
	return nil
}

type HabitClearCmd struct {
	Habit string `arg:"" help:"Habit name or id."`
	Date  string `help:"Date in YYYY-MM-DD format (default: today)."`
	Time  string `help:"Time of day."`
}

func (c *HabitClearCmd) Run(ctx *cli.Context) error {
	svc := ctx.Habits()
	date, slot, err := resolveInstance(svc, c.Habit, c.Date, c.Time)
	if err != nil {
		return err
	}
	if err := svc.Clear(c.Habit, date, slot); err != nil {
		return err
	}

	fmt.Printf("Cleared %q for %s (%s)\n", c.Habit, date, slot)
	return nil
}

type HabitNoteCmd struct {
	Habit string `arg:"" help:"Habit name or id."`
	Text  string `arg:"" optional:"" help:"Note text; empty removes the note."`
	Date  string `help:"Date in YYYY-MM-DD format (default: today)."`
	Time  string `help:"Time of day."`
}

func (c *HabitNoteCmd) Run(ctx *cli.Context) error {
	svc := ctx.Habits()
	date, slot, err := resolveInstance(svc, c.Habit, c.Date, c.Time)
	if err != nil {
		return err
	}
	if err := svc.SetNote(c.Habit, date, slot, c.Text); err != nil {
		return err
	}

	if strings.TrimSpace(c.Text) == "" {
		fmt.Printf("Removed note from %q for %s\n", c.Habit, date)
	} else {
		fmt.Printf("Saved note for %q on %s\n", c.Habit, date)
	}
	return nil
}

type HabitProgressCmd struct {
	Habit string `arg:"" help:"Habit name or id."`
	Value int    `arg:"" help:"Pages or minutes done (1 or 0 for check goals)."`
	Date  string `help:"Date in YYYY-MM-DD format (default: today)."`
	Time  string `help:"Time of day."`
}

func (c *HabitProgressCmd) Run(ctx *cli.Context) error {
	svc := ctx.Habits()
	date, slot, err := resolveInstance(svc, c.Habit, c.Date, c.Time)
	if err != nil {
		return err
	}
	if err := svc.SetProgress(c.Habit, date, slot, c.Value); err != nil {
		return err
	}

	fmt.Printf("Recorded %d for %q on %s\n", c.Value, c.Habit, date)
	return nil
}

type HabitSkipCmd struct {
	Habit string `arg:"" help:"Habit name or id."`
	Date  string `help:"Date in YYYY-MM-DD format (default: today)."`
	Times string `help:"Do it at these times instead of skipping."`
	Reset bool   `help:"Drop the override and use the regular schedule."`
}

func (c *HabitSkipCmd) Run(ctx *cli.Context) error {
	svc := ctx.Habits()
	date, err := cli.ResolveDate(c.Date, svc.Today())
	if err != nil {
		return err
	}

	var times []habitlog.Slot
	switch {
	case c.Reset:
		times = nil
	case c.Times != "":
		if times, err = cli.ParseSlots(c.Times); err != nil {
			return err
		}
	default:
		times = []habitlog.Slot{}
	}
	if err := svc.SetDailySchedule(c.Habit, date, times); err != nil {
		return err
	}

	switch {
	case c.Reset:
		fmt.Printf("Restored the regular schedule of %q on %s\n", c.Habit, date)
	case len(times) == 0:
		fmt.Printf("Skipped %q on %s\n", c.Habit, date)
	default:
		fmt.Printf("Moved %q on %s to %s\n", c.Habit, date, formatSlots(times))
	}
	return nil
}

type HabitRescheduleCmd struct {
	Habit string `arg:"" help:"Habit name or id."`
	From  string `help:"First date of the new schedule (default: today)."`
	Name  string `help:"New name."`
	Times string `help:"New times of day."`
	Every string `help:"New frequency: day, 'N days' or 'N weeks'."`
	Days  string `help:"New weekdays, overrides --every."`
	Goal  string `help:"New goal type: check, pages or minutes."`
	Total int    `help:"New goal total."`
}

func (c *HabitRescheduleCmd) Run(ctx *cli.Context) error {
	svc := ctx.Habits()
	from, err := cli.ResolveDate(c.From, svc.Today())
	if err != nil {
		return err
	}

	var edits []func(*models.ScheduleEpoch)
	if c.Name != "" {
		edits = append(edits, func(e *models.ScheduleEpoch) { e.Name = c.Name })
	}
	if c.Times != "" {
		slots, err := cli.ParseSlots(c.Times)
		if err != nil {
			return err
		}
		edits = append(edits, func(e *models.ScheduleEpoch) { e.Times = slots })
	}
	if c.Every != "" || c.Days != "" {
		freq, err := cli.ParseFrequency(c.Every, c.Days)
		if err != nil {
			return err
		}
		edits = append(edits, func(e *models.ScheduleEpoch) { e.Frequency = freq })
	}
	if c.Goal != "" {
		if _, err := models.ParseGoalType(c.Goal); err != nil {
			return err
		}
	}
	if c.Goal != "" || c.Total != 0 {
		edits = append(edits, func(e *models.ScheduleEpoch) {
			if c.Goal != "" {
				e.Goal.Type = models.GoalType(c.Goal)
			}
			if c.Total > 0 {
				total := c.Total
				e.Goal.Total = &total
			}
		})
	}
	if len(edits) == 0 {
		return fmt.Errorf("nothing to change: pass --name, --times, --every, --days, --goal or --total")
	}

	err = svc.Reschedule(c.Habit, from, func(e *models.ScheduleEpoch) {
		for _, edit := range edits {
			edit(e)
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("Rescheduled %q from %s\n", c.Habit, from)
	return nil
}

type HabitGraduateCmd struct {
	Habit string `arg:"" help:"Habit name or id."`
	Date  string `help:"Graduation date (default: today)."`
}

func (c *HabitGraduateCmd) Run(ctx *cli.Context) error {
	if err := ctx.Habits().Graduate(c.Habit, c.Date); err != nil {
		return err
	}
	fmt.Printf("Graduated habit: %s\n", c.Habit)
	return nil
}

type HabitDeleteCmd struct {
	Habit string `arg:"" help:"Habit name or id."`
}

func (c *HabitDeleteCmd) Run(ctx *cli.Context) error {
	if err := ctx.Habits().Delete(c.Habit); err != nil {
		return err
	}

	fmt.Printf("Deleted habit: %s\n", c.Habit)
	fmt.Println("(This is a soft delete. Use 'habitsync habit restore' to undo)")
	return nil
}

type HabitRestoreCmd struct {
	Habit string `arg:"" help:"Habit name or id."`
}

func (c *HabitRestoreCmd) Run(ctx *cli.Context) error {
	if err := ctx.Habits().Restore(c.Habit); err != nil {
		return err
	}
	fmt.Printf("Restored habit: %s\n", c.Habit)
	return nil
}

type HabitPurgeCmd struct {
	Habit string `arg:"" help:"Habit name or id."`
}

func (c *HabitPurgeCmd) Run(ctx *cli.Context) error {
	ctx.PerformAutomaticBackup()
	res, err := ctx.Habits().Purge(c.Habit)
	if err != nil {
		return err
	}
	fmt.Printf("Purged %q: %d month(s) of logs, %d day(s) of notes and overrides\n", c.Habit, res.Months, res.Days)
	return nil
}

// resolveInstance fills in the date and time of day of an instance. The time
// may be omitted when the habit is due exactly once that day.
func resolveInstance(svc *service.HabitService, ref, date, slotName string) (string, habitlog.Slot, error) {
	date, err := cli.ResolveDate(date, svc.Today())
	if err != nil {
		return "", 0, err
	}
	if slotName != "" {
		slot, err := habitlog.ParseSlot(slotName)
		return date, slot, err
	}

	snap, err := svc.Snapshot()
	if err != nil {
		return "", 0, err
	}
	h, err := service.Resolve(snap, ref)
	if err != nil {
		return "", 0, err
	}
	times := schedule.TimesOn(snap, h, date)
	if len(times) == 0 {
		if e, ok := schedule.EpochOn(h, date); ok {
			times = e.Times
		}
	}
	switch len(times) {
	case 0:
		return "", 0, fmt.Errorf("%w: %s on %s", service.ErrNotScheduled, h.Name(), date)
	case 1:
		return date, times[0], nil
	default:
		return "", 0, fmt.Errorf("%s is due %s on %s, pass --time", h.Name(), formatSlots(times), date)
	}
}

func formatSlots(slots []habitlog.Slot) string {
	names := make([]string, len(slots))
	for i, s := range slots {
		names[i] = strings.ToLower(s.String())
	}
	return strings.Join(names, ", ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
