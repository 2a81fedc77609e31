package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/scholarchain/internal/events"
	"github.com/jmerrifield20/scholarchain/internal/ledger"
	"github.com/spf13/cobra"
)

var seedCount int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Append a demo presentation workflow to the ledger",
	Long: `seed records roles, staff accounts and --count complete presentation
workflows (submission, assignment, scheduling, examiner response and
notification) through the same producer API the backend uses.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if seedCount < 1 {
			return fmt.Errorf("--count must be at least 1")
		}
		chain, _, closeStore, err := openChain(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		rec := events.NewRecorder(chain, newLogger())
		ctx := events.WithSourceIP(cmd.Context(), "127.0.0.1")
		res, err := seedDemo(ctx, rec, seedCount, time.Now().UTC())
		if err != nil {
			return err
		}
		return res.print(cmd.OutOrStdout())
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 3, "number of presentation workflows to record")
}

type seededEntity struct {
	model, id, name string
}

type seedResult struct {
	blocks   int
	entities []seededEntity
}

func (r *seedResult) print(out io.Writer) error {
	fmt.Fprintf(out, "Appended %d blocks\n\n", r.blocks)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tID\tNAME")
	for _, e := range r.entities {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.model, e.id, e.name)
	}
	return w.Flush()
}

// seedDemo records a small but complete academic workflow. Every appended
// block is counted in the result.
func seedDemo(ctx context.Context, rec *events.Recorder, count int, now time.Time) (*seedResult, error) {
	res := &seedResult{}
	track := func(b *ledger.Block, err error) error {
		if err != nil {
			return err
		}
		if b != nil {
			res.blocks++
		}
		return nil
	}

	for _, name := range []string{"Students", "Examiners", "Coordinators"} {
		role := events.Entity{ID: uuid.NewString(), Fields: map[string]any{"name": name}}
		if err := track(rec.RoleCreated(ctx, role)); err != nil {
			return nil, err
		}
		res.entities = append(res.entities, seededEntity{events.ModelRole, role.ID, name})
	}

	staff := func(name, role string) (*ledger.ActorRef, error) {
		u := events.Entity{ID: uuid.NewString(), Name: name, Fields: map[string]any{
			"username":  name,
			"email":     name + "@scholarchain.example",
			"user_type": role,
		}}
		if err := track(rec.UserCreated(ctx, u)); err != nil {
			return nil, err
		}
		res.entities = append(res.entities, seededEntity{events.ModelUser, u.ID, name})
		return &ledger.ActorRef{ID: u.ID, Name: name}, nil
	}
	coordinator, err := staff("coordinator", "coordinator")
	if err != nil {
		return nil, err
	}
	examiner, err := staff("examiner", "examiner")
	if err != nil {
		return nil, err
	}

	for i := 1; i <= count; i++ {
		name := fmt.Sprintf("student%d", i)
		student, err := staff(name, "student")
		if err != nil {
			return nil, err
		}

		pid := uuid.NewString()
		title := fmt.Sprintf("Thesis defence %d", i)
		p := events.Entity{ID: pid, Fields: map[string]any{
			"title":   title,
			"student": events.Related{ID: student.ID, Display: name},
			"status":  "pending",
		}}
		if err := track(rec.PresentationSubmitted(ctx, p, student)); err != nil {
			return nil, err
		}
		res.entities = append(res.entities, seededEntity{events.ModelPresentation, pid, title})

		slot := now.Add(time.Duration(i) * 7 * 24 * time.Hour).Truncate(time.Hour)
		assignment := events.Entity{ID: uuid.NewString(), Presentation: pid, Fields: map[string]any{
			"presentation": events.Related{ID: pid, Display: title},
			"room":         fmt.Sprintf("A%d", 100+i),
			"start_time":   slot,
		}}
		if err := track(rec.PresentationAssigned(ctx, assignment, coordinator)); err != nil {
			return nil, err
		}

		p.Fields["status"] = "scheduled"
		p.Fields["scheduled_date"] = slot
		if err := track(rec.PresentationScheduled(ctx, p)); err != nil {
			return nil, err
		}

		ea := events.Entity{ID: uuid.NewString(), Presentation: pid, Fields: map[string]any{
			"presentation": events.Related{ID: pid, Display: title},
			"examiner":     events.Related{ID: examiner.ID, Display: examiner.Name},
			"status":       "pending",
		}}
		if err := track(rec.ExaminerResponded(ctx, ea, examiner, true)); err != nil {
			return nil, err
		}
		ea.Fields["status"] = events.StatusAccepted
		if err := track(rec.ExaminerResponded(ctx, ea, examiner, false)); err != nil {
			return nil, err
		}

		n := events.Entity{ID: uuid.NewString(), Presentation: pid, Fields: map[string]any{
			"message": fmt.Sprintf("Your presentation %q is scheduled for %s", title, slot.Format(time.RFC1123)),
			"is_read": false,
		}}
		if err := track(rec.NotificationSent(ctx, n, student)); err != nil {
			return nil, err
		}
	}
	return res, nil
}
