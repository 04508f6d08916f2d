package clock

import "fmt"

// MaxStepsPrompt is injected for the one forced-text-only turn allowed when
// iterations reach the configured maximum (spec.md §4.A step 2).
const MaxStepsPrompt = "[System] You have reached the maximum number of steps for this task. " +
	"Summarize what you have accomplished so far and what remains, without making further tool calls."

// DoomLoopPrompt is injected when the Progress Detector reports a doom loop.
func DoomLoopPrompt(tool string, count int) string {
	return fmt.Sprintf("[System] You have called %q %d times in a row with the same arguments. "+
		"This looks like a loop. Reassess your approach before continuing.", tool, count)
}

// ExplorationNudgePrompt is injected on exploration saturation.
func ExplorationNudgePrompt(uniqueFilesRead, iterationsInPhase int) string {
	return fmt.Sprintf("[System] You've read %d files across %d iterations without making any changes. "+
		"Consider whether you have enough information to act.", uniqueFilesRead, iterationsInPhase)
}

// WrapUpPrompt is injected when a soft limit is crossed, describing
// remaining budget so the model can plan a wrap-up.
func WrapUpPrompt(kind BudgetType, percentUsed float64) string {
	return fmt.Sprintf("[System] You have used approximately %.0f%% of the %s budget for this task. "+
		"Begin wrapping up and prioritize the most important remaining work.", percentUsed, kind)
}
