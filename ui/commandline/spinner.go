package commandline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	. "github.com/gomlx/exceptions"
	"github.com/muesli/termenv"
)

// spinnerFrames are the braille glyphs cycled while the spinner waits.
var spinnerFrames = []string{"⢿", "⣻", "⣽", "⣾", "⣷", "⣯", "⣟", "⡿"}

// Spinner animates a short "work in progress" marker on the terminal for
// tasks with no measurable progress: corpus generation, rewiring a large
// batch, loading a dataset.
//
// Create one with NewSpinner, call Start to begin the animation and Stop to
// replace it with a closing message and the elapsed time:
//
//	spin := commandline.NewSpinner("Generating systems")
//	spin.Start(ctx)
//	...
//	spin.Stop("done")
//
// A Spinner serves a single Start/Stop cycle.
type Spinner struct {
	desc   string
	period time.Duration
	w      io.Writer
	term   *termenv.Output

	start  time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSpinner creates a spinner labeled desc that writes to os.Stdout and
// refreshes every 100ms. Nothing is printed until Start is called.
func NewSpinner(desc string) *Spinner {
	return &Spinner{
		desc:   desc,
		period: 100 * time.Millisecond,
		w:      os.Stdout,
		term:   termenv.NewOutput(os.Stdout),
		done:   make(chan struct{}),
	}
}

// WithWriter redirects the spinner output. It returns the spinner to allow chaining.
func (s *Spinner) WithWriter(w io.Writer) *Spinner {
	s.w = w
	s.term = termenv.NewOutput(w)
	return s
}

// WithPeriod changes the refresh period. It returns the spinner to allow chaining.
func (s *Spinner) WithPeriod(period time.Duration) *Spinner {
	s.period = period
	return s
}

// Start launches the animation on its own goroutine. The first frame is
// drawn immediately, the following ones after every refresh period. The
// animation runs until Stop is called or ctx is cancelled, whichever comes
// first.
func (s *Spinner) Start(ctx context.Context) {
	if s.cancel != nil {
		Panicf("Spinner.Start called twice")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.start = time.Now()
	s.term.HideCursor()
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for frame := 0; ; frame++ {
			fmt.Fprintf(s.w, "\r%s %s", s.desc, spinnerFrames[frame%len(spinnerFrames)])
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the animation and overwrites it with a closing line of the form
// "<desc> | <end> (<elapsed>)". It blocks until the animation goroutine
// exits, so it is safe to print to the same writer right after it returns.
func (s *Spinner) Stop(end string) {
	if s.cancel == nil {
		Panicf("Spinner.Stop called before Start")
	}
	s.cancel()
	<-s.done
	fmt.Fprintf(s.w, "\r\033[K%s | %s (%s)\n", s.desc, end, FormatDuration(time.Since(s.start)))
	s.term.ShowCursor()
}
