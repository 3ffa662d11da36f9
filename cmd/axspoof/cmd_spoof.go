package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/mib2ctl/axspoof/pkg/devices"
	"github.com/mib2ctl/axspoof/pkg/eeprom"
	"github.com/mib2ctl/axspoof/pkg/spoof"
)

var spoofDryRun bool

var spoofCmd = &cobra.Command{
	Use:   "spoof",
	Short: "Rewrite the adapter VID/PID",
	Long: `Reads and backs up the full EEPROM, then rewrites the four identity bytes
at 0x88-0x8B one at a time, reading each back before the next. The adapter
must be replugged afterwards for the new identity to show up.

Ctrl-C aborts the operation until the first identity byte is written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		plan, err := e.session.Plan(cmd.Context(), e.target)
		if err != nil {
			return err
		}
		printPlan(plan)
		if spoofDryRun {
			return nil
		}

		question := fmt.Sprintf("About to rewrite %s to %s.", e.adapter.Identity, e.target)
		if plan.NoOp() {
			question = fmt.Sprintf("EEPROM already holds %s, nothing will be written. A backup will still be taken.", e.target)
		}
		ok, err := confirm(question, "yes")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("aborted")
		}

		if err := e.port.Unlock(eeprom.WriteMagic); err != nil {
			return err
		}
		defer e.port.Lock()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		ch, err := e.session.Spoof(ctx, e.target)
		if err != nil {
			return err
		}
		final := renderSpoof(ctx, ch)
		switch final.Step {
		case spoof.StepSuccess:
			okColor.Println(final.SuccessMessage)
			fmt.Printf("Backup: %s\n", final.Result.BackupID)
			return nil
		case spoof.StepError:
			errColor.Fprintln(os.Stderr, final.ErrorMessage)
			if final.Err != nil {
				return final.Err
			}
			return errors.New(final.ErrorMessage)
		}
		return fmt.Errorf("spoof cancelled, nothing was written")
	},
}

func printPlan(p *spoof.Plan) {
	headingColor.Printf("%s -> %s\n", p.Identity, p.Target)
	c := devices.Classify(p.Identity.Chipset)
	fmt.Printf("Chipset compatibility: %s\n", c)
	for _, w := range p.Warnings {
		warnColor.Printf("warning: %s\n", w)
	}
	if p.NoOp() {
		fmt.Println("No bytes need to change.")
		return
	}
	for _, ch := range p.Changes {
		fmt.Printf("  0x%02X: 0x%02X -> 0x%02X  %s\n", ch.Offset, ch.Current, ch.New, ch.Description)
	}
}

// renderSpoof prints every step change and returns the terminal state.
func renderSpoof(ctx context.Context, ch <-chan spoof.State) spoof.State {
	var last spoof.State
	interrupted := false
	for st := range ch {
		if ctx.Err() != nil && !interrupted {
			interrupted = true
			slog.Warn("Interrupt received")
		}
		if st.Step != last.Step {
			if st.Step.Executing() {
				fmt.Printf("[%d/7] %s\n", int(st.Step), st.Step.Description())
			}
		} else if st.Progress != last.Progress && st.Progress.Total > 0 {
			slog.Debug("Progress", "op", st.Progress.Operation, "done", st.Progress.Done, "total", st.Progress.Total)
		}
		last = st
	}
	return last
}
