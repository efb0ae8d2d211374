package pipeline

import (
	"context"

	"github.com/ricave/ricave-translator/jobs"
	"github.com/ricave/ricave-translator/logging"
)

// Result is what one job run produced.
type Result struct {
	Outcomes []Outcome
	// Complete is set when no language has outstanding files; the ledger
	// has been deleted in that case.
	Complete bool
	// Cancelled is set when ctx was cancelled before every language ran.
	Cancelled bool
}

// Run processes every target language of job in order. Cancellation stops
// the run before the next language or file starts. Language-level errors
// abort the job and leave its ledger on disk.
func (c *Coordinator) Run(ctx context.Context, job *jobs.Job) (*Result, error) {
	ctx = logging.WithJobID(ctx, job.ID)
	logger := logging.Ctx(ctx, "pipeline")

	if job.IsFixMode {
		if job.IsDebugMode {
			c.opts.log("Running in Debug & Fix mode.")
		} else {
			c.opts.log("Running in Sync & Fix mode.")
		}
	}

	res := &Result{}
	for _, code := range job.TargetLanguages {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		outcomes, err := c.ProcessLanguage(ctx, job, code)
		res.Outcomes = append(res.Outcomes, outcomes...)
		if err != nil {
			logger.Error().Err(err).Str("lang", code).Msg("language pass failed")
			return res, err
		}
	}
	if ctx.Err() != nil {
		res.Cancelled = true
	}

	if job.IsComplete() {
		res.Complete = true
		if c.store != nil {
			if err := c.store.Delete(job.ID); err != nil {
				return res, err
			}
		}
	}

	logger.Info().Bool("complete", res.Complete).Int("files", len(res.Outcomes)).Msg("job finished")
	return res, nil
}
