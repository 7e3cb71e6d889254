package compare

import (
	"context"
	"errors"
	"os"

	"github.com/corestories/storyrunner/internal/model"
	"github.com/corestories/storyrunner/internal/runnererrors"
)

// Evaluator wraps Compare with the outcome-mapping table of spec.md §4.7.
type Evaluator struct {
	Options Options
}

func NewEvaluator(threshold float64, outputDiffMask bool) *Evaluator {
	return &Evaluator{Options: Options{Threshold: threshold, OutputDiffMask: outputDiffMask}}
}

// Outcome is the partial StoryOutcome the evaluator can determine; the
// caller (capture/runner) fills in StoryID, DisplayName, and DurationMs.
type Outcome struct {
	Action model.Action
	Status model.Status
	Reason string
	Err    error
}

// Evaluate implements the full decision table of spec.md §4.7, given
// whether the baseline exists and whether the run is in update mode.
func (e *Evaluator) Evaluate(ctx context.Context, update bool, expectedPath, actualPath, diffPath string) Outcome {
	expectedExists := fileExists(expectedPath)

	if !expectedExists {
		if update {
			if err := copyFile(actualPath, expectedPath); err != nil {
				return Outcome{Action: model.ActionFailed, Status: model.StatusFailed, Reason: "image comparison failed", Err: err}
			}
			return Outcome{Action: model.ActionCreatedBaseline, Status: model.StatusPassed}
		}
		return Outcome{
			Action: model.ActionSkipped,
			Status: model.StatusSkipped,
			Reason: "missing baseline",
			Err:    runnererrors.MissingBaseline,
		}
	}

	if update {
		if err := copyFile(actualPath, expectedPath); err != nil {
			return Outcome{Action: model.ActionFailed, Status: model.StatusFailed, Reason: "image comparison failed", Err: err}
		}
		return Outcome{Action: model.ActionUpdatedBaseline, Status: model.StatusPassed}
	}

	res, err := Compare(ctx, expectedPath, actualPath, diffPath, e.Options)
	if err != nil {
		if errors.Is(err, ErrBaseImageUnreadable) {
			return Outcome{
				Action: model.ActionFailed,
				Status: model.StatusFailed,
				Reason: "baseline corrupted",
				Err:    runnererrors.New(runnererrors.KindComparator, "baseline corrupted", err),
			}
		}
		return Outcome{
			Action: model.ActionFailed,
			Status: model.StatusFailed,
			Reason: "image comparison failed",
			Err:    runnererrors.New(runnererrors.KindComparator, "image comparison failed", err),
		}
	}

	if res.Match {
		return Outcome{Action: model.ActionPass, Status: model.StatusPassed}
	}

	return Outcome{
		Action: model.ActionFailed,
		Status: model.StatusFailed,
		Reason: "visual difference",
		Err:    runnererrors.New(runnererrors.KindVisualDifference, "visual difference detected: see "+diffPath, nil),
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o644)
}
