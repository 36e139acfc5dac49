package worker

import "errors"

var (
	// ErrMissingInputFile means a file the command reads is absent from the
	// pull request's head branch.
	ErrMissingInputFile = errors.New("missing input file")
	// ErrNoCodeGenerated means the model answered without a usable code block.
	ErrNoCodeGenerated = errors.New("no code was generated")
	// ErrCommitFailed wraps a failed write of the generated file.
	ErrCommitFailed = errors.New("commit failed")
)
