package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/noah-isme/scorebook/internal/models"
	"github.com/noah-isme/scorebook/internal/rating"
	"github.com/noah-isme/scorebook/internal/service"
	"github.com/noah-isme/scorebook/pkg/config"
	appErrors "github.com/noah-isme/scorebook/pkg/errors"
)

type app struct {
	svc      *service.GradebookService
	metrics  *service.MetricsService
	backend  string
	binWidth int
	out      io.Writer
}

type command struct {
	usage  string
	mutate bool
	run    func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"summary":          {usage: "summary", run: cmdSummary},
	"table":            {usage: "table", run: cmdTable},
	"add-student":      {usage: "add-student NAME", mutate: true, run: cmdAddStudent},
	"add-question":     {usage: "add-question --name N --full F [--weight W] [--comment C]", mutate: true, run: cmdAddQuestion},
	"delete-student":   {usage: "delete-student ID", mutate: true, run: cmdDeleteStudent},
	"delete-question":  {usage: "delete-question ID", mutate: true, run: cmdDeleteQuestion},
	"edit-question":    {usage: "edit-question ID FIELD VALUE", mutate: true, run: cmdEditQuestion},
	"score":            {usage: "score STUDENT QUESTION VALUE", mutate: true, run: cmdScore},
	"import-students":  {usage: "import-students FILE", mutate: true, run: cmdImportStudents},
	"import-questions": {usage: "import-questions FILE", mutate: true, run: cmdImportQuestions},
	"rating":           {usage: "rating add LABEL MIN | rating set INDEX LABEL MIN | rating remove INDEX", mutate: true, run: cmdRating},
	"ratings":          {usage: "ratings", run: cmdRatings},
	"histogram":        {usage: "histogram [--width W]", run: cmdHistogram},
	"search":           {usage: "search QUERY [--down N]", run: cmdSearch},
	"completions":      {usage: "completions [--limit N]", run: cmdCompletions},
	"export":           {usage: "export [--format csv|pdf] [--out FILE]", run: cmdExport},
	"save":             {usage: "save", run: cmdSave},
	"save-as":          {usage: "save-as PATH", run: cmdSaveAs},
	"open":             {usage: "open PATH", mutate: true, run: cmdOpen},
	"metrics":          {usage: "metrics", run: cmdMetrics},
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		a.usage()
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		a.usage()
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown command %q", args[0]))
	}
	runErr := cmd.run(ctx, a, args[1:])
	if !cmd.mutate {
		return runErr
	}
	// An edit whose write-through failed is still in memory; a full save is
	// the last chance to keep it before the process exits.
	if runErr != nil && !a.svc.Unsynced() {
		return runErr
	}
	if err := a.persist(ctx); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		fmt.Fprintln(a.out, "note: write-through failed; gradebook saved in full instead")
	}
	return nil
}

// persist saves after an edit. The relational backend only needs a full save
// when a write-through failed; a document without a save path stays unsaved.
func (a *app) persist(ctx context.Context) error {
	if a.backend == config.BackendRelational {
		if !a.svc.Unsynced() {
			return nil
		}
		return a.svc.Save(ctx)
	}
	err := a.svc.Save(ctx)
	if errors.Is(err, appErrors.ErrNoSavePath) {
		fmt.Fprintln(a.out, "note: changes not saved; set SNAPSHOT_PATH or run save-as")
		return nil
	}
	return err
}

func (a *app) usage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(a.out, "usage: scorebook COMMAND [ARGS]")
	for _, name := range names {
		fmt.Fprintf(a.out, "  %s\n", commands[name].usage)
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func positional(args []string, n int, usage string) error {
	if len(args) != n {
		return appErrors.Clone(appErrors.ErrValidation, "usage: scorebook "+usage)
	}
	return nil
}

func parseIntArg(raw, what string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be an integer", what))
	}
	return v, nil
}

func cmdSummary(_ context.Context, a *app, _ []string) error {
	p := a.svc.Progress()
	fmt.Fprintf(a.out, "students:  %d\n", p.Total)
	fmt.Fprintf(a.out, "questions: %d\n", len(a.svc.Questions()))
	fmt.Fprintf(a.out, "completed: %d of %d\n", p.Completed, p.Total)
	if path := a.svc.Store().SavePath(); path != nil {
		fmt.Fprintf(a.out, "save path: %s\n", *path)
	}
	return writeStats(a.out, a.svc.RatingStats())
}

func cmdTable(_ context.Context, a *app, _ []string) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	header := []string{"ID", "NAME"}
	for _, q := range a.svc.Questions() {
		header = append(header, fmt.Sprintf("%s/%d", q.Name, q.FullScore))
	}
	header = append(header, "FINAL")
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range a.svc.TableRows() {
		cols := append([]string{row.StudentID, row.StudentName}, row.Scores...)
		cols = append(cols, row.FinalDisplay)
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	return tw.Flush()
}

func cmdAddStudent(ctx context.Context, a *app, args []string) error {
	if err := positional(args, 1, "add-student NAME"); err != nil {
		return err
	}
	st, err := a.svc.AddStudent(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "added student %s %s\n", st.ID, st.Name)
	return nil
}

func cmdAddQuestion(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("add-question")
	name := fs.String("name", "", "question name")
	full := fs.Int("full", 0, "full score")
	weight := fs.Float64("weight", 1, "weight in the final score")
	comment := fs.String("comment", "", "free-form comment")
	if err := fs.Parse(args); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation, err.Error())
	}
	q, err := a.svc.AddQuestion(ctx, models.Question{Name: *name, FullScore: *full, Weight: *weight, Comment: *comment})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "added question %d %s (/%d, weight %g)\n", q.ID, q.Name, q.FullScore, q.Weight)
	return nil
}

func cmdDeleteStudent(ctx context.Context, a *app, args []string) error {
	if err := positional(args, 1, "delete-student ID"); err != nil {
		return err
	}
	return a.svc.DeleteStudent(ctx, args[0])
}

func cmdDeleteQuestion(ctx context.Context, a *app, args []string) error {
	if err := positional(args, 1, "delete-question ID"); err != nil {
		return err
	}
	id, err := parseIntArg(args[0], "question id")
	if err != nil {
		return err
	}
	return a.svc.DeleteQuestion(ctx, id)
}

func cmdEditQuestion(ctx context.Context, a *app, args []string) error {
	if err := positional(args, 3, "edit-question ID FIELD VALUE"); err != nil {
		return err
	}
	id, err := parseIntArg(args[0], "question id")
	if err != nil {
		return err
	}
	q, err := a.svc.ApplyQuestionField(ctx, id, models.QuestionField(args[1]), args[2])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "question %d: %s (/%d, weight %g)\n", q.ID, q.Name, q.FullScore, q.Weight)
	return nil
}

func cmdScore(ctx context.Context, a *app, args []string) error {
	if err := positional(args, 3, "score STUDENT QUESTION VALUE"); err != nil {
		return err
	}
	qid, err := parseIntArg(args[1], "question id")
	if err != nil {
		return err
	}
	stored, err := a.svc.ApplyScoreInput(ctx, args[0], qid, args[2])
	if err != nil {
		return err
	}
	final, err := a.svc.FinalScore(args[0])
	if err != nil {
		return err
	}
	value := "ungraded"
	if stored != nil {
		value = strconv.Itoa(*stored)
	}
	fmt.Fprintf(a.out, "%s q%d = %s, final %s\n", args[0], qid, value, displayFinal(final))
	return nil
}

func cmdImportStudents(ctx context.Context, a *app, args []string) error {
	if err := positional(args, 1, "import-students FILE"); err != nil {
		return err
	}
	n, err := a.svc.ImportStudents(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d students added or changed\n", n)
	return nil
}

func cmdImportQuestions(ctx context.Context, a *app, args []string) error {
	if err := positional(args, 1, "import-questions FILE"); err != nil {
		return err
	}
	n, err := a.svc.ImportQuestions(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d questions added or changed\n", n)
	return nil
}

func cmdRating(ctx context.Context, a *app, args []string) error {
	usage := "rating add LABEL MIN | rating set INDEX LABEL MIN | rating remove INDEX"
	if len(args) == 0 {
		return positional(args, 1, usage)
	}
	var buckets []models.RatingBucket
	switch args[0] {
	case "add":
		if err := positional(args, 3, usage); err != nil {
			return err
		}
		minScore, err := parseIntArg(args[2], "minimum score")
		if err != nil {
			return err
		}
		buckets, err = a.svc.AddRating(ctx, args[1], minScore)
		if err != nil {
			return err
		}
	case "set":
		if err := positional(args, 4, usage); err != nil {
			return err
		}
		index, err := parseIntArg(args[1], "index")
		if err != nil {
			return err
		}
		minScore, err := parseIntArg(args[3], "minimum score")
		if err != nil {
			return err
		}
		buckets, err = a.svc.UpdateRating(ctx, index, args[2], minScore)
		if err != nil {
			return err
		}
	case "remove":
		if err := positional(args, 2, usage); err != nil {
			return err
		}
		index, err := parseIntArg(args[1], "index")
		if err != nil {
			return err
		}
		buckets, err = a.svc.RemoveRating(ctx, index)
		if err != nil {
			return err
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, "usage: scorebook "+usage)
	}
	for i, b := range buckets {
		fmt.Fprintf(a.out, "%d  %-10s >= %d\n", i, b.Label, b.MinScore)
	}
	return nil
}

func cmdRatings(_ context.Context, a *app, _ []string) error {
	for i, b := range a.svc.Ratings() {
		fmt.Fprintf(a.out, "%d  %-10s >= %d\n", i, b.Label, b.MinScore)
	}
	return writeStats(a.out, a.svc.RatingStats())
}

func cmdHistogram(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("histogram")
	width := fs.Int("width", 0, "bin width in percent (1-100)")
	if err := fs.Parse(args); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation, err.Error())
	}
	w := *width
	if w <= 0 {
		w = a.binWidth
	}
	bins, err := a.svc.Histogram(w)
	if err != nil {
		return err
	}
	labels := rating.BinLabels(w)
	for i, n := range bins {
		if i < len(labels) {
			fmt.Fprintf(a.out, "%8s  %s %d\n", labels[i], strings.Repeat("#", n), n)
		}
	}
	return nil
}

func cmdSearch(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("search")
	down := fs.Int("down", 0, "move the selection down N times before confirming")
	if err := fs.Parse(args); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation, err.Error())
	}
	query := strings.Join(fs.Args(), " ")
	results := a.svc.Search(query)
	for i, st := range results {
		fmt.Fprintf(a.out, "%2d  %-10s %s\n", i, st.ID, st.Name)
	}
	if len(results) == 0 {
		fmt.Fprintln(a.out, "no matches")
		return nil
	}
	session := a.svc.SearchSession()
	for i := 0; i < *down; i++ {
		session.Down()
	}
	id, err := a.svc.ConfirmSelection()
	if err != nil {
		return err
	}
	final, err := a.svc.FinalScore(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "selected %s, final %s\n", id, displayFinal(final))
	return nil
}

func cmdCompletions(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("completions")
	limit := fs.Int("limit", 10, "maximum records, 0 for all")
	if err := fs.Parse(args); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation, err.Error())
	}
	records, err := a.svc.RecentCompletions(ctx, *limit)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Fprintf(a.out, "%s  %s\n", r.FinishedAt.Format("2006-01-02 15:04:05"), r.StudentID)
	}
	return nil
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("export")
	format := fs.String("format", "csv", "csv or pdf")
	out := fs.String("out", "", "file name inside the export directory")
	if err := fs.Parse(args); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation, err.Error())
	}
	result, err := a.svc.Export(ctx, models.ExportFormat(strings.ToLower(*format)), *out)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "exported %d rows to %s\n", result.Rows, result.Path)
	return nil
}

func cmdSave(ctx context.Context, a *app, _ []string) error {
	if err := a.svc.Save(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "saved")
	return nil
}

func cmdSaveAs(ctx context.Context, a *app, args []string) error {
	if err := positional(args, 1, "save-as PATH"); err != nil {
		return err
	}
	path, err := a.svc.SaveAs(ctx, fixedPick(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "saved to %s\n", path)
	return nil
}

func cmdOpen(ctx context.Context, a *app, args []string) error {
	if err := positional(args, 1, "open PATH"); err != nil {
		return err
	}
	path, err := a.svc.Open(ctx, fixedPick(args[0]))
	if err != nil {
		return err
	}
	p := a.svc.Progress()
	fmt.Fprintf(a.out, "opened %s: %d students, %d completed\n", path, p.Total, p.Completed)
	return nil
}

func cmdMetrics(_ context.Context, a *app, _ []string) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(a.metrics.Snapshot())
}

func fixedPick(path string) service.Picker {
	return func() (string, bool) {
		path = strings.TrimSpace(path)
		return path, path != ""
	}
}

func displayFinal(f models.FinalScore) string {
	if !f.Defined {
		return "pending"
	}
	return strconv.FormatFloat(f.Value, 'f', 1, 64)
}

func writeStats(w io.Writer, stats []models.RatingStat) error {
	for _, st := range stats {
		if _, err := fmt.Fprintf(w, "%-10s %3d  %5.1f%%\n", st.Label, st.Count, st.Ratio*100); err != nil {
			return err
		}
	}
	return nil
}
