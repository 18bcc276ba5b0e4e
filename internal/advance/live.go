package advance

import (
	"time"

	"github.com/belowgo/below/internal/model"
	"github.com/belowgo/below/internal/sample"
)

// Live diffs samples as the collector hands them out, applying the
// same gap policy as stored replay so live and replay consumers see
// identical semantics.
type Live struct {
	maxGap time.Duration
	prev   *sample.Sample
}

// NewLive builds a live differ; maxGap <= 0 uses the engine default.
func NewLive(maxGap time.Duration) *Live {
	if maxGap <= 0 {
		maxGap = DefaultMaxSampleGap
	}
	return &Live{maxGap: maxGap}
}

// Feed yields the model for the next collected sample.
func (l *Live) Feed(curr *sample.Sample) *model.Model {
	prev := l.prev
	l.prev = curr
	if prev == nil || curr.Timestamp < prev.Timestamp {
		return model.New(nil, curr)
	}
	if time.Duration(curr.Timestamp-prev.Timestamp)*time.Second > l.maxGap {
		return model.New(nil, curr)
	}
	return model.New(prev, curr)
}
