package commandline

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"

	"github.com/ocmodels/ocgraph/datasets"
	"github.com/ocmodels/ocgraph/training"
)

// ExtraMetricFn is any function that gives extra values to display along the
// progress bar. It is called at every refresh and returns a row title and the
// current value.
type ExtraMetricFn func() (name, value string)

// RefreshPeriod is the time between terminal updates.
var RefreshPeriod = 3 * time.Second

// ProgressbarStyle to use. Defaults to the ASCII version; consider
// progressbar.ThemeUnicode where the graphical symbols are supported.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBarName is the hook name the progress bar registers under.
const ProgressBarName = "ocgraph.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the time between updates of the stats display.
const maxUpdateFrequency = 200 * time.Millisecond

type progressBarUpdate struct {
	amount  int
	metrics []string // [0]: step counter, [1]: batch loss.
}

// progressBar holds a progress bar being displayed.
type progressBar struct {
	numSteps         int
	lastStepReported int
	bar              *progressbar.ProgressBar
	suffix           string
	totalAmount      int

	// lipgloss-based rich and asynchronous display for the command line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

// Write implements io.Writer, appending the current suffix to each line. It
// is the writer of the enclosed progressbar.ProgressBar, so the bar and the
// suffix land in one write operation.
func (pBar *progressBar) Write(data []byte) (n int, err error) {
	n, err = os.Stdout.Write(data)
	if err != nil {
		return n, err
	}
	_, err = os.Stdout.Write([]byte(pBar.suffix))
	if err != nil {
		return 0, err
	}
	return
}

func (pBar *progressBar) onStart(loop *training.Loop, _ datasets.BatchSource) error {
	pBar.lastStepReported = loop.LoopStep
	if loop.EndStep < 0 {
		pBar.numSteps = 1000 // Guess for now.
	} else {
		pBar.numSteps = loop.EndStep - loop.StartStep
	}
	pBar.bar = progressbar.NewOptions(pBar.numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar),
	)
	return nil
}

func (pBar *progressBar) onStep(loop *training.Loop, loss float64) error {
	if pBar.bar.IsFinished() {
		return nil
	}

	// Check whether there is something to update: onStep is registered both
	// on a step count and on a refresh period, and the two may coincide.
	amount := loop.LoopStep + 1 - pBar.lastStepReported // +1 because the current LoopStep is finished.
	if amount <= 0 {
		return nil
	}

	// Suffix to erase spurious characters from previous prints. ("\033[J"
	// erases to the end of the screen; erasing to the end of the line
	// flickers on some terminals.)
	pBar.suffix = "\033[J"

	// Enqueue an update to be asynchronously printed.
	pBar.updates <- progressBarUpdate{
		amount: amount,
		metrics: []string{
			fmt.Sprintf("%s of %s", humanizeInt(loop.LoopStep), humanizeInt(loop.EndStep)),
			fmt.Sprintf("%.5f", loss),
		},
	}

	pBar.totalAmount += amount
	pBar.lastStepReported = loop.LoopStep + 1
	return nil
}

func (pBar *progressBar) onEnd(*training.Loop, float64) error {
	close(pBar.updates)
	pBar.asyncUpdatesDone.Wait()
	pBar.termenv.ShowCursor()
	fmt.Println()
	return nil
}

// AttachProgressBar creates a command-line progress bar and attaches it to
// the loop, displaying progression, the batch loss and the step rate while
// the loop runs.
//
// Optionally one can provide extraMetrics: functions called at every update
// that return a name (title) and a value to include in the stats table --
// handy for surfacing evaluation results from Loop.SharedData.
//
// The bar serves one run: attach it right before Loop.RunSteps or
// Loop.RunEpochs.
func AttachProgressBar(loop *training.Loop, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		isFirstOutput:  true,
		termenv:        termenv.NewOutput(os.Stdout),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		extraMetricFns: extraMetrics,
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	pBar.updates = make(chan progressBarUpdate, 100) // Large buffer so training is not blocked.
	pBar.asyncUpdatesDone.Add(1)
	go func() {
		// Asynchronously draw updates: handy when training outpaces the
		// terminal, in particular over a slow network connection.
		for update := range pBar.updates {
			// Exhaust the updates in the buffer:
			amount := update.amount
		exhaust:
			for {
				select {
				case newUpdate, ok := <-pBar.updates:
					if !ok {
						break exhaust
					}
					amount += newUpdate.amount
					update = newUpdate
				default:
					break exhaust
				}
			}

			// Create the table to be printed.
			pBar.statsTable.Data(lgtable.NewStringData())
			pBar.statsTable.Row("Global Step", update.metrics[0])
			pBar.statsTable.Row("Median train step duration", FormatDuration(loop.MedianTrainStepDuration()))
			pBar.statsTable.Row("Batch loss", update.metrics[1])
			for _, extraMetric := range pBar.extraMetricFns {
				name, value := extraMetric()
				pBar.statsTable.Row(name, value)
			}

			// Clear the previous lines that will be overwritten.
			pBar.termenv.HideCursor()
			if !pBar.isFirstOutput {
				numLinesToBackup := len(update.metrics) + 2 + 2 + len(pBar.extraMetricFns)
				pBar.termenv.CursorPrevLine(numLinesToBackup)
			}
			pBar.isFirstOutput = false

			// Print update.
			fmt.Println(pBar.statsStyle.Render(pBar.statsTable.String()))
			_ = pBar.bar.Add(amount) // Prints the progress bar line.
			fmt.Println()
			pBar.termenv.ShowCursor()
			time.Sleep(maxUpdateFrequency)
		}
		pBar.asyncUpdatesDone.Done()
	}()

	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	// Update at least 1000 times during the loop, or at least every RefreshPeriod.
	training.NTimesDuringLoop(loop, 1000, ProgressBarName, 0, pBar.onStep)
	training.PeriodicCallback(loop, RefreshPeriod, false, ProgressBarName, 0, pBar.onStep)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}

func humanizeInt[I interface {
	uint64 | uint32 | uint16 | uint8 | int64 | int32 | int16 | int8 | int
}](nI I) string {
	n := int(nI)
	str := fmt.Sprintf("%d", n)
	result := make([]byte, 0, len(str)+len(str)/3)
	strLen := len(str)
	for i := strLen - 1; i >= 0; i-- {
		if (strLen-i-1)%3 == 0 && i < strLen-1 {
			result = append([]byte{'_'}, result...)
		}
		result = append([]byte{str[i]}, result...)
	}
	return string(result)
}
