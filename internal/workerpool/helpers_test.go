package workerpool

import "github.com/corestories/storyrunner/internal/runnererrors"

func assertRetryableErr() error {
	return runnererrors.New(runnererrors.KindNavigation, "failed to load story", nil)
}

func assertMissingBaselineErr() error {
	return runnererrors.MissingBaseline
}
