package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cardmint/scan-cli/internal/model"
)

// fallback shells out to the legacy local scanner. The scanner prints the
// same JSON shape as the remote model on stdout.
func (c *Classifier) fallback(ctx context.Context, item model.WorkItem, start time.Time) (*model.PrimaryResult, error) {
	cmd := exec.CommandContext(ctx, c.cfg.FallbackCommand, item.SourcePath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "classifier: legacy scanner failed for %s: %s",
			item.SourcePath, stderr.String())
	}

	var raw rawClassification
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, eris.Wrapf(err, "classifier: parse legacy scanner output for %s", item.SourcePath)
	}

	result := &model.PrimaryResult{
		Title:      defaultField(raw.Title),
		SetCode:    defaultField(raw.SetCode),
		Number:     defaultField(raw.Number),
		Rarity:     defaultField(raw.Rarity),
		Confidence: model.ClampConfidence(raw.Confidence / 100),
		Raw:        json.RawMessage(stdout.Bytes()),
		Source:     "legacy_fallback",
		Elapsed:    time.Since(start),
	}
	return result, nil
}
