package training

import "errors"

// ErrMalformedBatch indicates a batch whose shapes do not match the model
// configuration. Fatal: the epoch aborts with no partial-epoch recovery.
var ErrMalformedBatch = errors.New("malformed batch")

// ErrMissingScores indicates AUROC was requested but class probability
// scores were not captured alongside predictions. This is a configuration
// error, not a recoverable gap.
var ErrMissingScores = errors.New("auroc requires class probability scores")
